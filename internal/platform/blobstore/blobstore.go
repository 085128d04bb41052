// Package blobstore abstracts the object storage service holding rendered
// certificate documents. The workflow only needs three operations: write a
// document, probe that a stored document is still reachable, and mint a
// short-lived signed URL for authenticated download.
package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrEmptyPath      = errors.New("object path is required")
)

// Store is the contract for document storage backends.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	data        []byte
	contentType string
	uploadedAt  time.Time
}

// MemoryStore is an in-memory Store used in development and tests. Signed
// URLs are HMAC-signed paths on a configurable base URL so that handlers can
// be exercised end to end without a cloud bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]storedObject
	baseURL string
	signKey []byte

	// FailUploads and FailProbes force errors, for exercising retry paths.
	FailUploads bool
	FailProbes  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(baseURL string, signKey []byte) *MemoryStore {
	if baseURL == "" {
		baseURL = "https://storage.local"
	}
	if len(signKey) == 0 {
		signKey = []byte("dev-sign-key")
	}
	return &MemoryStore{
		objects: make(map[string]storedObject),
		baseURL: strings.TrimRight(baseURL, "/"),
		signKey: signKey,
	}
}

func (s *MemoryStore) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if s.FailUploads {
		return "", errors.New("storage unavailable")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	s.objects[path] = storedObject{data: buf, contentType: contentType, uploadedAt: time.Now().UTC()}
	s.mu.Unlock()
	return path, nil
}

func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	if path == "" {
		return false, ErrEmptyPath
	}
	if s.FailProbes {
		return false, errors.New("storage unavailable")
	}
	s.mu.RLock()
	_, ok := s.objects[path]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	s.mu.RLock()
	_, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}

	expires := time.Now().UTC().Add(ttl).Unix()
	mac := hmac.New(sha256.New, s.signKey)
	fmt.Fprintf(mac, "%s:%d", path, expires)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", s.baseURL, strings.TrimLeft(path, "/"), expires, sig), nil
}

// Get returns a stored object's bytes, for tests.
func (s *MemoryStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, true
}

// Delete removes an object. Used by tests to simulate a vanished document.
func (s *MemoryStore) Delete(path string) {
	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
}
