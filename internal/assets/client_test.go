package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestOwnedAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/owners/0xAlice/assets" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":7,"type":1,"uri":"ipfs://seven"},{"id":8,"type":2,"uri":"ipfs://eight"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	got, err := c.OwnedAssets(context.Background(), "0xAlice")
	if err != nil {
		t.Fatalf("OwnedAssets: %v", err)
	}
	if len(got) != 2 || got[0].ID != 7 || got[1].URI != "ipfs://eight" {
		t.Fatalf("unexpected assets: %+v", got)
	}

	uri, err := c.AssetURI(context.Background(), "0xAlice", 8)
	if err != nil || uri != "ipfs://eight" {
		t.Fatalf("AssetURI: %q %v", uri, err)
	}
	uri, err = c.AssetURI(context.Background(), "0xAlice", 99)
	if err != nil || uri != "" {
		t.Fatalf("unknown asset should yield empty URI: %q %v", uri, err)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	if _, err := c.OwnedAssets(context.Background(), "0xAlice"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	if _, err := c.OwnedAssets(context.Background(), "0xAlice"); err == nil {
		t.Fatalf("expected error on 404")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}
