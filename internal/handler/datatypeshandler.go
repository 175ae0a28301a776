package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	mdcache "mdstore/internal/cache"
	"mdstore/internal/svc"
	"mdstore/pkg/data"
	"mdstore/pkg/storage/remote"
)

// DataTypesHandler lists the (data type, argument) pairs stored for an
// instrument.
func DataTypesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.DataTypesRequest
		f, err := decodeRequest(r, &req)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad datatypes request: %v", err)
			return
		}
		if !permissionFrom(r.Context()).CanRead() {
			writeError(w, f, http.StatusForbidden, "read permission required")
			return
		}
		id, err := data.ParseSecurityID(req.Security)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad security id %q", req.Security)
			return
		}

		cacheKey := mdcache.DataTypesKey(id.String())
		var resp remote.DataTypesResponse
		if indexGet(r.Context(), svcCtx, cacheKey, &resp) {
			writeResponse(w, f, resp)
			return
		}

		types, err := svcCtx.Registry.GetAvailableDataTypes(r.Context(), id)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("data types %s: %v", id, err)
			writeError(w, f, http.StatusInternalServerError, "data type listing failed")
			return
		}
		infos := make([]remote.DataTypeInfo, 0, len(types))
		for _, ta := range types {
			infos = append(infos, remote.NewDataTypeInfo(ta))
		}
		resp = remote.DataTypesResponse{DataTypes: infos}
		indexSet(r.Context(), svcCtx, cacheKey, resp, mdcache.DataTypesTTL(svcCtx.TTLs))
		writeResponse(w, f, resp)
	}
}
