package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/slot-market/internal/config"
)

type providerStub struct {
	mu       sync.Mutex
	captured map[string]int64
	released map[string]bool
	calls    int
	status   int
	delay    time.Duration
	keys     []string
}

func newProviderStub() *providerStub {
	return &providerStub{captured: map[string]int64{}, released: map[string]bool{}}
}

func (p *providerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.calls++
	p.keys = append(p.keys, r.Header.Get("Idempotency-Key"))
	status, delay := p.status, p.delay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer sk_test" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var authID, op string
	if err := splitAuthPath(r.URL.Path, &authID, &op); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch op {
	case "capture":
		if _, ok := p.captured[authID]; ok {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(providerError{Code: "already_captured"})
			return
		}
		var body struct {
			Amount int64 `json:"amount"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.captured[authID] = body.Amount
	case "cancel":
		if p.released[authID] {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(providerError{Code: "already_cancelled"})
			return
		}
		p.released[authID] = true
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// splitAuthPath splits /v1/authorizations/{id}/{op}.
func splitAuthPath(path string, authID, op *string) error {
	const prefix = "/v1/authorizations/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return errors.New("bad path")
	}
	rest := path[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			*authID, *op = rest[:i], rest[i+1:]
			return nil
		}
	}
	return errors.New("bad path")
}

func newTestGateway(t *testing.T, stub *providerStub, timeout time.Duration) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(config.PaymentConfig{BaseURL: srv.URL + "/", APIKey: "sk_test", Timeout: timeout}, srv.Client())
}

func TestHTTPGateway(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("capture is idempotent", func(t *testing.T) {
		stub := newProviderStub()
		gw := newTestGateway(t, stub, time.Second)

		if err := gw.Capture(ctx, "auth_1", 450); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := gw.Capture(ctx, "auth_1", 450); err != nil {
			t.Fatalf("expected repeat capture to succeed, got %v", err)
		}
		if got := stub.captured["auth_1"]; got != 450 {
			t.Fatalf("expected captured amount 450, got %d", got)
		}
		if stub.keys[0] != "capture:auth_1" {
			t.Fatalf("unexpected idempotency key %q", stub.keys[0])
		}
	})

	t.Run("release twice does not error", func(t *testing.T) {
		stub := newProviderStub()
		gw := newTestGateway(t, stub, time.Second)

		for i := 0; i < 2; i++ {
			if err := gw.Release(ctx, "auth_2"); err != nil {
				t.Fatalf("release %d: expected no error, got %v", i, err)
			}
		}
		if !stub.released["auth_2"] {
			t.Fatalf("expected auth_2 released")
		}
	})

	t.Run("5xx is transient", func(t *testing.T) {
		stub := newProviderStub()
		stub.status = http.StatusBadGateway
		gw := newTestGateway(t, stub, time.Second)

		err := gw.Capture(ctx, "auth_3", 100)
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
	})

	t.Run("4xx is rejected", func(t *testing.T) {
		stub := newProviderStub()
		stub.status = http.StatusUnprocessableEntity
		gw := newTestGateway(t, stub, time.Second)

		err := gw.Release(ctx, "auth_4")
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("expected ErrRejected, got %v", err)
		}
	})

	t.Run("timeout is transient", func(t *testing.T) {
		stub := newProviderStub()
		stub.delay = 200 * time.Millisecond
		gw := newTestGateway(t, stub, 20*time.Millisecond)

		err := gw.Capture(ctx, "auth_5", 100)
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
	})

	t.Run("empty authorization id is rejected without a call", func(t *testing.T) {
		stub := newProviderStub()
		gw := newTestGateway(t, stub, time.Second)

		if err := gw.Capture(ctx, "", 100); !errors.Is(err, ErrRejected) {
			t.Fatalf("expected ErrRejected, got %v", err)
		}
		if stub.calls != 0 {
			t.Fatalf("expected no provider calls, got %d", stub.calls)
		}
	})
}
