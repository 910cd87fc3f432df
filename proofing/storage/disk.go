package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/jwtauth/v5"
)

// DiskGateway stores objects on the local filesystem. Signed urls are minted
// as short lived jwts verified by the gateway's file handler, which is mounted
// outside the authenticated api routes.
type DiskGateway struct {
	basepath  string
	publicUrl string
	tokens    *jwtauth.JWTAuth
}

func NewDiskGateway(basepath, publicUrl string, secret []byte) *DiskGateway {
	slog.Info("creating new disk storage gateway", "basepath", basepath)
	return &DiskGateway{
		basepath:  basepath,
		publicUrl: publicUrl,
		tokens:    jwtauth.New("HS256", secret, nil),
	}
}

func (s *DiskGateway) fullpath(key string) string {
	return filepath.Join(s.basepath, filepath.FromSlash(key))
}

func (s *DiskGateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
	fullpath := s.fullpath(key)

	err := os.MkdirAll(filepath.Dir(fullpath), 0777)
	if err != nil {
		slog.Error("error creating parent directory", "path", fullpath, "error", err)
		return fmt.Errorf("error creating parent directory for %v: %v", key, err)
	}

	err = os.WriteFile(fullpath, data, 0666)
	if err != nil {
		slog.Error("error writing object", "path", fullpath, "error", err)
		return fmt.Errorf("error writing object %v: %v", key, err)
	}

	return nil
}

func (s *DiskGateway) Get(ctx context.Context, key string) ([]byte, error) {
	fullpath := s.fullpath(key)

	data, err := os.ReadFile(fullpath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		slog.Error("error reading object", "path", fullpath, "error", err)
		return nil, fmt.Errorf("error reading object %v: %v", key, err)
	}

	return data, nil
}

func (s *DiskGateway) Delete(ctx context.Context, key string) error {
	fullpath := s.fullpath(key)

	err := os.Remove(fullpath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("error deleting object", "path", fullpath, "error", err)
		return fmt.Errorf("error deleting object %v: %v", key, err)
	}

	return nil
}

func (s *DiskGateway) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"key": key,
		"exp": time.Now().Add(ttl),
	}
	_, token, err := s.tokens.Encode(claims)
	if err != nil {
		slog.Error("error generating signed url token", "key", key, "error", err)
		return "", fmt.Errorf("error generating signed url for %v: %v", key, err)
	}

	return fmt.Sprintf("%v/files?key=%v&token=%v", s.publicUrl, url.QueryEscape(key), token), nil
}

// FileHandler serves the objects referenced by this gateway's signed urls.
func (s *DiskGateway) FileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		tokenStr := r.URL.Query().Get("token")
		if key == "" || tokenStr == "" {
			http.Error(w, "missing key or token query parameter", http.StatusBadRequest)
			return
		}

		token, err := jwtauth.VerifyToken(s.tokens, tokenStr)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusForbidden)
			return
		}

		signedKey, ok := token.Get("key")
		if !ok || signedKey != key {
			http.Error(w, "token does not grant access to this object", http.StatusForbidden)
			return
		}

		data, err := s.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if _, err := w.Write(data); err != nil {
			slog.Error("error writing object to response", "key", key, "error", err)
		}
	}
}
