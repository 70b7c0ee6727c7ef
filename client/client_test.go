package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveHandle(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.HasPrefix(r.URL.Path, "/xrpc/com.atproto.identity.resolveHandle") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("handle") != "alice.example.com" {
			t.Errorf("unexpected handle: %s", r.URL.Query().Get("handle"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"did":"did:plc:alice"}`))
	}))
	defer server.Close()

	c := New("ignored")
	c.client = server.Client()
	c.directory = strings.TrimPrefix(server.URL, "http://")

	// The directory client always speaks https; point it at the test
	// server by rewriting through its transport instead.
	c.client.Transport = rewriteHost{target: server.URL}

	did, err := c.ResolveHandle(context.Background(), "alice.example.com")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if did != "did:plc:alice" {
		t.Fatalf("unexpected did: %s", did)
	}

	// Cached on the second call.
	if _, err := c.ResolveHandle(context.Background(), "alice.example.com"); err != nil {
		t.Fatalf("cached resolve failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one directory call, got %d", calls)
	}
}

type rewriteHost struct {
	target string
}

func (r rewriteHost) RoundTrip(req *http.Request) (*http.Response, error) {
	rewritten := r.target + req.URL.RequestURI()
	next, err := http.NewRequestWithContext(req.Context(), req.Method, rewritten, req.Body)
	if err != nil {
		return nil, err
	}
	next.Header = req.Header
	return http.DefaultTransport.RoundTrip(next)
}

func TestResolveHandleRejectsEmptyDID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New("ignored")
	c.client = server.Client()
	c.client.Transport = rewriteHost{target: server.URL}
	c.directory = "directory.test"

	if _, err := c.ResolveHandle(context.Background(), "bob.example.com"); err == nil {
		t.Fatalf("expected error for empty did")
	}
}
