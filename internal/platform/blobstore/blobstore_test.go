package blobstore

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryStore_UploadAndExists(t *testing.T) {
	s := NewMemoryStore("", nil)
	ctx := context.Background()

	path, err := s.Upload(ctx, "certificates/abc.pdf", []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if path != "certificates/abc.pdf" {
		t.Errorf("unexpected path: %s", path)
	}

	ok, err := s.Exists(ctx, path)
	if err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}

	ok, err = s.Exists(ctx, "certificates/missing.pdf")
	if err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_EmptyPath(t *testing.T) {
	s := NewMemoryStore("", nil)
	if _, err := s.Upload(context.Background(), "", nil, ""); err != ErrEmptyPath {
		t.Errorf("expected ErrEmptyPath, got %v", err)
	}
	if _, err := s.Exists(context.Background(), ""); err != ErrEmptyPath {
		t.Errorf("expected ErrEmptyPath, got %v", err)
	}
}

func TestMemoryStore_SignedURL(t *testing.T) {
	s := NewMemoryStore("https://docs.example.com", []byte("k"))
	ctx := context.Background()
	s.Upload(ctx, "certificates/abc.pdf", []byte("x"), "application/pdf")

	url, err := s.SignedURL(ctx, "certificates/abc.pdf", 15*time.Minute)
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	if !strings.HasPrefix(url, "https://docs.example.com/certificates/abc.pdf?expires=") {
		t.Errorf("unexpected url: %s", url)
	}
	if !strings.Contains(url, "sig=") {
		t.Errorf("url missing signature: %s", url)
	}

	if _, err := s.SignedURL(ctx, "nope.pdf", time.Minute); err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	s := NewMemoryStore("", nil)
	s.FailUploads = true
	if _, err := s.Upload(context.Background(), "a.pdf", []byte("x"), ""); err == nil {
		t.Error("expected injected upload failure")
	}
	s.FailUploads = false
	s.FailProbes = true
	if _, err := s.Exists(context.Background(), "a.pdf"); err == nil {
		t.Error("expected injected probe failure")
	}
}
