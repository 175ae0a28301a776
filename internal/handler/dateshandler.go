package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	mdcache "mdstore/internal/cache"
	"mdstore/internal/svc"
	"mdstore/pkg/data"
	"mdstore/pkg/storage/remote"
)

// DatesHandler lists the dates one stream has day files for, ascending.
func DatesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.DatesRequest
		f, err := decodeRequest(r, &req)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad dates request: %v", err)
			return
		}
		if !permissionFrom(r.Context()).CanRead() {
			writeError(w, f, http.StatusForbidden, "read permission required")
			return
		}
		key, err := req.Stream.StreamKey()
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad stream: %v", err)
			return
		}

		cacheKey := mdcache.DatesKey(key.Security.String(), data.FileName(key.TypeArg()))
		var resp remote.DatesResponse
		if indexGet(r.Context(), svcCtx, cacheKey, &resp) {
			writeResponse(w, f, resp)
			return
		}

		drive := svcCtx.Registry.ResolveDrive(key)
		dates, err := drive.GetDates(r.Context(), key)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("dates %s: %v", key, err)
			writeError(w, f, http.StatusInternalServerError, "date listing failed")
			return
		}
		resp = remote.DatesResponse{Dates: make([]string, 0, len(dates))}
		for _, d := range dates {
			resp.Dates = append(resp.Dates, d.UTC().Format(remote.WireDate))
		}
		indexSet(r.Context(), svcCtx, cacheKey, resp, mdcache.DatesTTL(svcCtx.TTLs))
		writeResponse(w, f, resp)
	}
}
