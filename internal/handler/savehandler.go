package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/internal/svc"
	"mdstore/pkg/codec"
	"mdstore/pkg/data"
	"mdstore/pkg/storage/remote"
)

// SaveHandler accepts one raw day file upload. The payload is decoded
// before it touches disk so corrupt uploads are rejected instead of
// poisoning the store.
func SaveHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.SaveRequest
		f, err := decodeRequest(r, &req)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad save request: %v", err)
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
		date, err := remote.ParseWireDate(req.Date)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "bad date %q", req.Date)
			return
		}

		header, records, err := codec.Decode(req.Payload)
		if err != nil {
			writeError(w, f, http.StatusBadRequest, "corrupt payload: %v", err)
			return
		}
		if want := data.KindOf(key.Type); header.Kind != want {
			writeError(w, f, http.StatusBadRequest,
				"payload kind %d does not match stream %s", header.Kind, key)
			return
		}

		drive := svcCtx.Registry.ResolveDrive(key)
		if err := drive.SaveStream(r.Context(), key, date, req.Payload); err != nil {
			logx.WithContext(r.Context()).Errorf("save %s %s: %v", key, req.Date, err)
			writeError(w, f, http.StatusInternalServerError, "save failed")
			return
		}
		invalidateIndex(r.Context(), svcCtx, key)
		if err := svcCtx.Notifier.PublishStored(key, date, len(records)); err != nil {
			logx.WithContext(r.Context()).Errorf("notify stored %s %s: %v", key, req.Date, err)
		}
		writeResponse(w, f, struct{}{})
	}
}
