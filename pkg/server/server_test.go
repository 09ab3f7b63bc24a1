package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/nimburion/docstore/pkg/observability/logger"
)

func TestServerStartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := NewServer(Config{
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, handler, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	addr, err := srv.Addr(waitCtx)
	if err != nil {
		t.Fatalf("server did not start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", addr.(*net.TCPAddr).Port))
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server shutdown failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server shutdown timed out")
	}
}

func TestServerShutdownBeforeStart(t *testing.T) {
	srv := NewServer(Config{}, http.NotFoundHandler(), nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of an idle server must be a no-op, got %v", err)
	}
}

func TestServerStart_PortInUse(t *testing.T) {
	first := NewServer(Config{}, http.NotFoundHandler(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Start(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	addr, err := first.Addr(waitCtx)
	if err != nil {
		t.Fatalf("server did not start: %v", err)
	}

	second := NewServer(Config{Port: addr.(*net.TCPAddr).Port}, http.NotFoundHandler(), nil)
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected an error when the port is taken")
	}
}
