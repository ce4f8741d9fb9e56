package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-managed-exec/internal/logging"
)

func TestServer_Endpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{Program: "/bin/cat"}, registry)
	c.RecordChunk(7)

	var running atomic.Bool
	running.Store(true)

	s := NewServer("127.0.0.1:0", registry, running.Load, logging.Discard())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get("http://" + s.Addr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	if code != http.StatusOK || !strings.Contains(body, "managed_exec_stdout_bytes_total 7") {
		t.Errorf("/metrics = %d:\n%s", code, body)
	}

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz"} {
		if code, _ := get(path); code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, code)
		}
	}

	running.Store(false)
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after exit = %d, want 503", code)
	}
	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz after exit = %d, want 200", code)
	}
}

func TestServer_BindError(t *testing.T) {
	s := NewServer("127.0.0.1:notaport", prometheus.NewRegistry(), nil, logging.Discard())
	if err := s.Start(); err == nil {
		t.Error("expected listen error")
	}
}
