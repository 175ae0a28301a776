package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/internal/svc"
	"mdstore/pkg/storage/remote"
)

// LoadHandler serves one raw day file. Absent data answers 204 so the
// client can tell "no data" from errors.
func LoadHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.LoadRequest
		f, err := decodeRequest(r, &req)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad load request: %v", err)
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
		date, err := remote.ParseWireDate(req.Date)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad date %q", req.Date)
			return
		}

		drive := svcCtx.Registry.ResolveDrive(key)
		payload, ok, err := drive.LoadStream(r.Context(), key, date)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("load %s %s: %v", key, req.Date, err)
			writeError(w, f, http.StatusInternalServerError, "load failed")
			return
		}
		if !ok {
			writeNoContent(w)
			return
		}
		writeResponse(w, f, remote.LoadResponse{Payload: payload})
	}
}
