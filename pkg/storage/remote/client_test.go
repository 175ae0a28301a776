package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"mdstore/pkg/data"
)

var testKey = data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}

// protocolServer is a minimal in-process server side for client tests.
type protocolServer struct {
	dates    []string
	payloads map[string][]byte
	token    string

	saved map[string][]byte
}

func (s *protocolServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/securities/lookup", func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, r, LookupResponse{Securities: []SecurityInfo{
			{ID: "AAPL@NASDAQ", PriceScale: 2, VolumeScale: 0},
		}})
	})
	mux.HandleFunc("/api/v1/securities/datatypes", func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, r, DataTypesResponse{DataTypes: []DataTypeInfo{
			{DataType: "Ticks"},
			{DataType: "Candle.TimeFrame", TimeFrame: "5m0s"},
		}})
	})
	mux.HandleFunc("/api/v1/storage/dates", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSONError(w, http.StatusForbidden, "access denied")
			return
		}
		s.reply(w, r, DatesResponse{Dates: s.dates})
	})
	mux.HandleFunc("/api/v1/storage/load", func(w http.ResponseWriter, r *http.Request) {
		var req LoadRequest
		decodeBody(r, &req)
		payload, ok := s.payloads[req.Date]
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.reply(w, r, LoadResponse{Payload: payload})
	})
	mux.HandleFunc("/api/v1/storage/save", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSONError(w, http.StatusForbidden, "write access required")
			return
		}
		var req SaveRequest
		decodeBody(r, &req)
		if s.saved == nil {
			s.saved = make(map[string][]byte)
		}
		s.saved[req.Date] = req.Payload
		s.reply(w, r, struct{}{})
	})
	return mux
}

func (s *protocolServer) authorized(r *http.Request) bool {
	return s.token == "" || r.Header.Get("Authorization") == "Bearer "+s.token
}

func (s *protocolServer) reply(w http.ResponseWriter, r *http.Request, v any) {
	if isMsgpack(r) {
		raw, _ := msgpack.Marshal(v)
		w.Header().Set("Content-Type", "application/x-msgpack")
		w.Write(raw)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func isMsgpack(r *http.Request) bool {
	return r.Header.Get("Content-Type") == "application/x-msgpack"
}

func decodeBody(r *http.Request, v any) {
	raw, _ := io.ReadAll(r.Body)
	if isMsgpack(r) {
		msgpack.Unmarshal(raw, v)
		return
	}
	json.Unmarshal(raw, v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func TestClientRoundTripBothFormats(t *testing.T) {
	for _, format := range []Format{FormatBinary, FormatText} {
		t.Run(string(format), func(t *testing.T) {
			backend := &protocolServer{
				dates:    []string{"2025_03_13", "2025_03_14"},
				payloads: map[string][]byte{"2025_03_14": {0xAB, 0xCD}},
			}
			srv := httptest.NewServer(backend.handler())
			defer srv.Close()

			client := NewClient(srv.URL, WithFormat(format))
			ctx := context.Background()

			infos, err := client.LookupSecurities(ctx, "AAPL*")
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, "AAPL@NASDAQ", infos[0].ID)
			assert.Equal(t, uint8(2), infos[0].PriceScale)

			types, err := client.GetAvailableDataTypes(ctx, testKey.Security)
			require.NoError(t, err)
			require.Len(t, types, 2)
			assert.Equal(t, data.TypeTicks, types[0].Type)
			assert.Equal(t, 5*time.Minute, types[1].Arg.TimeFrame)

			dates, err := client.GetDates(ctx, testKey)
			require.NoError(t, err)
			assert.Equal(t, []time.Time{
				time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
				time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			}, dates)

			payload, ok, err := client.LoadStream(ctx, testKey, dates[1])
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{0xAB, 0xCD}, payload)

			require.NoError(t, client.SaveStream(ctx, testKey, dates[0], []byte{0x01}))
			assert.Equal(t, []byte{0x01}, backend.saved["2025_03_13"])
		})
	}
}

func TestClientNoContentMeansNoData(t *testing.T) {
	backend := &protocolServer{payloads: map[string][]byte{}}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	_, ok, err := client.LoadStream(context.Background(), testKey, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientDeniedIsNotAuthorized(t *testing.T) {
	backend := &protocolServer{token: "secret"}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(srv.URL, WithToken("wrong"))
	_, err := client.GetDates(context.Background(), testKey)
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Contains(t, err.Error(), "access denied")

	// The right token goes through.
	client = NewClient(srv.URL, WithToken("secret"))
	_, err = client.GetDates(context.Background(), testKey)
	require.NoError(t, err)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	backend := &protocolServer{dates: []string{"2025_03_14"}}
	inner := backend.handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			writeJSONError(w, http.StatusInternalServerError, "transient")
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithMaxRetries(3))
	dates, err := client.GetDates(context.Background(), testKey)
	require.NoError(t, err)
	assert.Len(t, dates, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientStopsRetryingOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSONError(w, http.StatusBadRequest, "malformed stream")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithMaxRetries(3))
	_, err := client.GetDates(context.Background(), testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed stream")
	assert.Equal(t, int32(1), calls.Load(), "4xx answers are not retried")
}

func TestClientRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSONError(w, http.StatusInternalServerError, "still down")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithMaxRetries(1))
	_, err := client.GetDates(context.Background(), testKey)
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.Equal(t, int32(2), calls.Load())
}

// Records a dates exchange into a cassette, then replays it with the
// backend gone to prove the recorded session is self-sufficient.
func TestClientRecordedSessionReplays(t *testing.T) {
	backend := &protocolServer{dates: []string{"2025_03_14"}}
	srv := httptest.NewServer(backend.handler())

	cassette := filepath.Join(t.TempDir(), "dates_session")

	rec, err := recorder.New(cassette)
	require.NoError(t, err)
	client := NewClient(srv.URL,
		WithFormat(FormatText),
		WithHTTPClient(&http.Client{Transport: rec}),
	)
	dates, err := client.GetDates(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	require.NoError(t, rec.Stop())

	srv.Close()

	replay, err := recorder.New(cassette)
	require.NoError(t, err)
	defer replay.Stop()
	client = NewClient(srv.URL,
		WithFormat(FormatText),
		WithHTTPClient(&http.Client{Transport: replay}),
	)
	replayed, err := client.GetDates(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, dates, replayed)
}
