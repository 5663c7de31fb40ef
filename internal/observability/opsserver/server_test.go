package opsserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	logx "morningbot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, header ...string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func testRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "morningbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(2)
	return reg
}

func TestHandlerRoutes(t *testing.T) {
	healthy := true
	s := New(Config{Enabled: true}, testRegistry(), func(context.Context) error {
		if !healthy {
			return errors.New("scheduler stopped")
		}
		return nil
	}, logx.Nop())
	h := s.Handler()

	code, body := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "morningbot_test_total 2")

	code, body = get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	healthy = false
	code, body = get(t, h, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body, "scheduler stopped")

	code, _ = get(t, h, "/debug/pprof/")
	require.Equal(t, http.StatusNotFound, code)
}

func TestPprofAndToken(t *testing.T) {
	s := New(Config{Enabled: true, Pprof: true, Token: "s3cret"}, testRegistry(), nil, logx.Nop())
	h := s.Handler()

	code, _ := get(t, h, "/metrics")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/metrics?token=wrong")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/metrics", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/debug/pprof/?token=s3cret")
	require.Equal(t, http.StatusOK, code)
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:9090"}, nil, nil, logx.Nop())
	require.Error(t, s.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testRegistry(), nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ops server did not bind")
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "ok", string(b))

	sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer scancel()
	s.Stop(sctx)
	require.Empty(t, s.Addr())
}

func TestDisabledIsNoop(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
	require.Empty(t, s.Addr())
}
