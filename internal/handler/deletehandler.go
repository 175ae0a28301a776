package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/internal/svc"
	"mdstore/pkg/storage/remote"
)

// DeleteHandler removes a stream's day files in an inclusive date range.
func DeleteHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.DeleteRequest
		f, err := decodeRequest(r, &req)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad delete request: %v", err)
			return
		}
		if !permissionFrom(r.Context()).CanWrite() {
			writeError(w, f, http.StatusForbidden, "write permission required")
			return
		}
		key, err := req.Stream.StreamKey()
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad stream: %v", err)
			return
		}
		from, err := remote.ParseWireDate(req.From)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad date %q", req.From)
			return
		}
		to, err := remote.ParseWireDate(req.To)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad date %q", req.To)
			return
		}
		if to.Before(from) {
			writeError(w, f, http.StatusBadRequest, "empty range %s..%s", req.From, req.To)
			return
		}

		drive := svcCtx.Registry.ResolveDrive(key)
		dates, err := drive.GetDates(r.Context(), key)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("delete %s: list dates: %v", key, err)
			writeError(w, f, http.StatusInternalServerError, "delete failed")
			return
		}
		for _, d := range dates {
			if d.Before(from) || d.After(to) {
				continue
			}
			if err := drive.DeleteFile(r.Context(), key, d); err != nil {
				logx.WithContext(r.Context()).Errorf("delete %s %s: %v", key, d.Format(remote.WireDate), err)
				writeError(w, f, http.StatusInternalServerError, "delete failed")
				return
			}
		}
		invalidateIndex(r.Context(), svcCtx, key)
		writeResponse(w, f, struct{}{})
	}
}
