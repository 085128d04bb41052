package main

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/medcert/medcert/internal/config"
)

func TestBuildApp_WiresEverything(t *testing.T) {
	cfg := &config.Config{
		Env:                   "development",
		BlobBaseURL:           "http://localhost:8000/files",
		BlobSignKey:           "test-key",
		SMTPAddr:              "localhost:1025",
		SMTPFrom:              "certificates@medcert.local",
		IssuanceRatePerMinute: 30,
		IssuanceRateBurst:     10,
	}

	app := buildApp(cfg, nil, zerolog.Nop())

	if app.intakeHandler == nil || app.certHandler == nil || app.attHandler == nil ||
		app.issHandler == nil || app.outHandler == nil || app.retryHandler == nil ||
		app.auditHandler == nil {
		t.Fatal("expected all handlers to be wired")
	}
	if app.sweeper == nil || app.outboxSvc == nil {
		t.Fatal("expected background workers to be wired")
	}
}

func TestBuildApp_RateLimitFallsBackToDefaults(t *testing.T) {
	cfg := &config.Config{Env: "development"}

	app := buildApp(cfg, nil, zerolog.Nop())

	if app.rateLimitCfg.RequestsPerMinute <= 0 {
		t.Errorf("expected positive rate limit, got %v", app.rateLimitCfg.RequestsPerMinute)
	}
	if app.rateLimitCfg.BurstSize <= 0 {
		t.Errorf("expected positive burst, got %d", app.rateLimitCfg.BurstSize)
	}
}
