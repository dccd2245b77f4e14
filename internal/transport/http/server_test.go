package httptransport

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChainOrderAndCORS(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), mark("outer"), CORS("https://monitor.example"), mark("inner"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/time", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, []string{"outer", "inner"}, order)
	require.Equal(t, "https://monitor.example", rec.Header().Get("Access-Control-Allow-Origin"))

	order = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/time", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"outer"}, order, "preflight stops at CORS")
}

func TestRecoverAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), AccessLog(logger), Recover(logger))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/zones", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, buf.String(), `"msg":"handler panic"`)
	require.Contains(t, buf.String(), `"status":500`)
}

func TestNewServer(t *testing.T) {
	srv := NewServer(ServerConfig{Address: ":0", ReadTimeout: time.Second, WriteTimeout: 2 * time.Second}, http.NotFoundHandler())
	require.Equal(t, ":0", srv.Addr)
	require.Equal(t, time.Second, srv.ReadHeaderTimeout)
	require.Equal(t, 2*time.Second, srv.WriteTimeout)
}
