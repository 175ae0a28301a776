package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/pkg/storage/remote"
)

// maxBodySize caps request bodies. Day files are compact; a single day
// of ticks stays well under this.
const maxBodySize = 256 << 20

// formatFromRequest picks the envelope encoding from the Content-Type
// header. Anything that is not msgpack is treated as JSON.
func formatFromRequest(r *http.Request) remote.Format {
	if strings.Contains(r.Header.Get("Content-Type"), "msgpack") {
		return remote.FormatBinary
	}
	return remote.FormatText
}

// decodeRequest reads and decodes the request body, returning the wire
// format so the response can mirror it.
func decodeRequest(r *http.Request, v any) (remote.Format, error) {
	f := formatFromRequest(r)
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return f, fmt.Errorf("read body: %w", err)
	}
	if f == remote.FormatBinary {
		if err := msgpack.Unmarshal(raw, v); err != nil {
			return f, fmt.Errorf("unmarshal msgpack body: %w", err)
		}
		return f, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return f, fmt.Errorf("unmarshal json body: %w", err)
	}
	return f, nil
}

func writeResponse(w http.ResponseWriter, f remote.Format, v any) {
	var (
		raw []byte
		err error
	)
	if f == remote.FormatBinary {
		raw, err = msgpack.Marshal(v)
	} else {
		raw, err = json.Marshal(v)
	}
	if err != nil {
		logx.Errorf("marshal response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		logx.Errorf("write response: %v", err)
	}
}

// writeNoContent answers 204, the protocol's "no data" result.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, f remote.Format, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	var (
		raw []byte
		err error
	)
	body := remote.ErrorResponse{Error: msg}
	if f == remote.FormatBinary {
		raw, err = msgpack.Marshal(body)
	} else {
		raw, err = json.Marshal(body)
	}
	if err != nil {
		logx.Errorf("marshal error response: %v", err)
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(status)
	if _, err := w.Write(raw); err != nil {
		logx.Errorf("write error response: %v", err)
	}
}
