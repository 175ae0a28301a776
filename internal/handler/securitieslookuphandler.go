package handler

import (
	"net/http"
	"path"

	"github.com/zeromicro/go-zero/core/logx"

	mdcache "mdstore/internal/cache"
	"mdstore/internal/svc"
	"mdstore/pkg/data"
	"mdstore/pkg/storage"
	"mdstore/pkg/storage/remote"
)

// SecuritiesLookupHandler answers instrument lookups. With a Postgres
// catalog the pattern is matched in SQL; otherwise the default drive is
// scanned and matched in memory.
func SecuritiesLookupHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.LookupRequest
		f, err := decodeRequest(r, &req)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad lookup request: %v", err)
			return
		}
		if !permissionFrom(r.Context()).CanRead() {
			writeError(w, f, http.StatusForbidden, "read permission required")
			return
		}

		cacheKey := mdcache.SecuritySearchKey(req.Pattern)
		var cached remote.LookupResponse
		if indexGet(r.Context(), svcCtx, cacheKey, &cached) {
			writeResponse(w, f, cached)
			return
		}

		if svcCtx.SecuritiesModel != nil {
			rows, err := svcCtx.SecuritiesModel.Search(r.Context(), req.Pattern)
			if err != nil {
				logx.WithContext(r.Context()).Errorf("catalog search %q: %v", req.Pattern, err)
				writeError(w, f, http.StatusInternalServerError, "catalog search failed")
				return
			}
			infos := make([]remote.SecurityInfo, 0, len(rows))
			for _, row := range rows {
				sec := row.Domain()
				infos = append(infos, remote.SecurityInfo{
					ID:          sec.ID.String(),
					PriceScale:  sec.PriceScale,
					VolumeScale: sec.VolumeScale,
					PriceStep:   sec.PriceStep,
				})
			}
			resp := remote.LookupResponse{Securities: infos}
			indexSet(r.Context(), svcCtx, cacheKey, resp, mdcache.SecuritySearchTTL(svcCtx.TTLs))
			writeResponse(w, f, resp)
			return
		}

		ids, err := svcCtx.Registry.ListSecurities(r.Context())
		if err != nil {
			logx.WithContext(r.Context()).Errorf("list securities: %v", err)
			writeError(w, f, http.StatusInternalServerError, "list securities failed")
			return
		}
		infos := make([]remote.SecurityInfo, 0, len(ids))
		for _, id := range ids {
			if !matchPattern(req.Pattern, id) {
				continue
			}
			info := remote.SecurityInfo{
				ID:          id.String(),
				PriceScale:  storage.DefaultPriceScale,
				VolumeScale: storage.DefaultVolumeScale,
			}
			if sec, ok := svcCtx.Securities.LookupSecurity(id); ok {
				info.PriceScale = sec.PriceScale
				info.VolumeScale = sec.VolumeScale
				info.PriceStep = sec.PriceStep
			}
			infos = append(infos, info)
		}
		resp := remote.LookupResponse{Securities: infos}
		indexSet(r.Context(), svcCtx, cacheKey, resp, mdcache.SecuritySearchTTL(svcCtx.TTLs))
		writeResponse(w, f, resp)
	}
}

// matchPattern matches a "SYMBOL@BOARD" glob where * is a wildcard. An
// empty or malformed pattern matches everything.
func matchPattern(pattern string, id data.SecurityID) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, id.String())
	if err != nil {
		return true
	}
	return ok
}
