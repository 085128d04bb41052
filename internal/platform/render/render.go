// Package render wraps the external document-rendering service that turns
// certificate template inputs into PDF bytes. Rendering is synchronous and
// may fail or time out; callers decide whether a failure surfaces to the
// clinician or feeds the retry queue.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// TemplateInput is the typed payload handed to the renderer. Fields beyond
// the common set depend on the certificate subtype and are validated by the
// intake package before they get here.
type TemplateInput struct {
	CertificateType  string            `json:"certificate_type"`
	PatientName      string            `json:"patient_name"`
	DoctorName       string            `json:"doctor_name"`
	StartDate        string            `json:"start_date"`
	EndDate          string            `json:"end_date"`
	VerificationCode string            `json:"verification_code"`
	Fields           map[string]string `json:"fields,omitempty"`
}

// Renderer produces a PDF document from template inputs.
type Renderer interface {
	Render(ctx context.Context, input TemplateInput) ([]byte, error)
}

// ErrRenderFailed wraps any renderer-side failure so callers can treat the
// whole class as retryable infrastructure trouble.
var ErrRenderFailed = errors.New("document render failed")

// HTTPRenderer calls a rendering service over HTTP.
type HTTPRenderer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRenderer creates a renderer against the given endpoint. The timeout
// bounds a single render call; expirations surface as ordinary errors.
func NewHTTPRenderer(endpoint string, timeout time.Duration) *HTTPRenderer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, input TemplateInput) ([]byte, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal input: %v", ErrRenderFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: renderer returned status %d", ErrRenderFailed, resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRenderFailed, err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: renderer returned empty document", ErrRenderFailed)
	}
	return pdf, nil
}

// ---------------------------------------------------------------------------
// Mock renderer (test double)
// ---------------------------------------------------------------------------

// MockRenderer records render calls and can be told to fail a fixed number of
// times before succeeding, which is how the retry-path tests drive it.
type MockRenderer struct {
	mu         sync.Mutex
	calls      []TemplateInput
	FailCount  int // fail this many calls before succeeding
	AlwaysFail bool
	Output     []byte
}

func (m *MockRenderer) Render(_ context.Context, input TemplateInput) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, input)
	if m.AlwaysFail {
		return nil, fmt.Errorf("%w: mock failure", ErrRenderFailed)
	}
	if m.FailCount > 0 {
		m.FailCount--
		return nil, fmt.Errorf("%w: mock failure", ErrRenderFailed)
	}
	out := m.Output
	if out == nil {
		out = []byte("%PDF-1.4 mock")
	}
	return out, nil
}

// Calls returns a copy of recorded render inputs.
func (m *MockRenderer) Calls() []TemplateInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TemplateInput, len(m.calls))
	copy(out, m.calls)
	return out
}
