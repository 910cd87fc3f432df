package storage

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestGateway(t *testing.T) *DiskGateway {
	return NewDiskGateway(t.TempDir(), "http://localhost:8000", []byte("test-secret-1234"))
}

func TestDiskGatewayRoundtrip(t *testing.T) {
	gateway := newTestGateway(t)
	ctx := context.Background()

	err := gateway.Put(ctx, "images/abc.jpg", []byte("image bytes"), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}

	data, err := gateway.Get(ctx, "images/abc.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "image bytes" {
		t.Fatalf("unexpected object content '%v'", string(data))
	}

	if err := gateway.Delete(ctx, "images/abc.jpg"); err != nil {
		t.Fatal(err)
	}
	if _, err := gateway.Get(ctx, "images/abc.jpg"); err != ErrObjectNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	// Deleting an absent object is not an error.
	if err := gateway.Delete(ctx, "images/abc.jpg"); err != nil {
		t.Fatal(err)
	}
}

func TestDiskGatewaySignedURL(t *testing.T) {
	gateway := newTestGateway(t)
	ctx := context.Background()

	if err := gateway.Put(ctx, "images/signed.jpg", []byte("signed bytes"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}

	signed, err := gateway.SignedURL(ctx, "images/signed.jpg", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(signed, "http://localhost:8000/files?") {
		t.Fatalf("unexpected signed url %v", signed)
	}

	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/files?"+parsed.RawQuery, nil)
	w := httptest.NewRecorder()
	gateway.FileHandler()(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %v", w.Code, w.Body.String())
	}
	if w.Body.String() != "signed bytes" {
		t.Fatalf("unexpected body '%v'", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected content type %v", w.Header().Get("Content-Type"))
	}
}

func TestDiskGatewayRejectsBadTokens(t *testing.T) {
	gateway := newTestGateway(t)
	ctx := context.Background()

	if err := gateway.Put(ctx, "images/a.jpg", []byte("a"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	if err := gateway.Put(ctx, "images/b.jpg", []byte("b"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}

	signed, err := gateway.SignedURL(ctx, "images/a.jpg", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}

	// A token minted for one key does not grant access to another.
	query := url.Values{}
	query.Set("key", "images/b.jpg")
	query.Set("token", parsed.Query().Get("token"))

	req := httptest.NewRequest("GET", "/files?"+query.Encode(), nil)
	w := httptest.NewRecorder()
	gateway.FileHandler()(w, req)
	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	// Garbage tokens are rejected outright.
	query.Set("token", "not-a-token")
	req = httptest.NewRequest("GET", "/files?"+query.Encode(), nil)
	w = httptest.NewRecorder()
	gateway.FileHandler()(w, req)
	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	// Missing parameters are a bad request.
	req = httptest.NewRequest("GET", "/files", nil)
	w = httptest.NewRecorder()
	gateway.FileHandler()(w, req)
	if w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
