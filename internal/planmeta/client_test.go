package planmeta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(ClientOptions{
		BaseURL:       server.URL,
		TokenProvider: StaticToken("meta-token"),
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	})
}

func TestMetaFetchesAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(PlanMeta{
			PlanID:   "p1",
			GroupID:  "g1",
			Title:    "Lisbon long weekend",
			DayCount: 3,
		})
	}))
	defer server.Close()

	meta, err := testClient(t, server).Meta(context.Background(), "g1", "p1")
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if gotAuth != "Bearer meta-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotPath != "/v1/groups/g1/plans/p1" {
		t.Fatalf("path = %q", gotPath)
	}
	if meta.Title != "Lisbon long weekend" || meta.DayCount != 3 {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestMetaRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(PlanMeta{PlanID: "p1"})
	}))
	defer server.Close()

	if _, err := testClient(t, server).Meta(context.Background(), "g1", "p1"); err != nil {
		t.Fatalf("Meta after retries: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestMetaReturnsTypedHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "plan_not_found", "message": "no such plan"})
	}))
	defer server.Close()

	_, err := testClient(t, server).Meta(context.Background(), "g1", "missing")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusNotFound || httpErr.Code != "plan_not_found" {
		t.Fatalf("httpErr = %+v", httpErr)
	}
}

func TestMetaDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if _, err := testClient(t, server).Meta(context.Background(), "g1", "p1"); err == nil {
		t.Fatalf("Meta with 403 succeeded")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestThumbnailReturnsRawBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/thumbnails/key-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer server.Close()

	data, err := testClient(t, server).Thumbnail(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if len(data) != 4 || data[0] != 0x89 {
		t.Fatalf("thumbnail bytes = %v", data)
	}
}

func TestClientRequiresToken(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1", TokenProvider: StaticToken(" ")})
	if _, err := client.Meta(context.Background(), "g", "p"); err == nil {
		t.Fatalf("Meta with empty token succeeded")
	}
}
