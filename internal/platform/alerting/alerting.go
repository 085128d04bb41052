// Package alerting is the fire-and-forget observability collaborator. A
// critical capture means a data-integrity bug or an exhausted retry ticket
// needing operator action; callers never block on, or fail because of, an
// alert.
package alerting

import (
	"sync"

	"github.com/rs/zerolog"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alerter is the contract for the alerting backend.
type Alerter interface {
	CaptureMessage(text string, severity Severity, tags map[string]string, extra map[string]interface{})
}

// LogAlerter writes alerts to the structured log. It is the default backend;
// deployments forward critical log lines to the paging system.
type LogAlerter struct {
	logger zerolog.Logger
}

// NewLogAlerter creates a LogAlerter on the given logger.
func NewLogAlerter(logger zerolog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.With().Str("component", "alerting").Logger()}
}

func (a *LogAlerter) CaptureMessage(text string, severity Severity, tags map[string]string, extra map[string]interface{}) {
	var evt *zerolog.Event
	switch severity {
	case SeverityCritical:
		evt = a.logger.Error()
	case SeverityWarning:
		evt = a.logger.Warn()
	default:
		evt = a.logger.Info()
	}
	evt = evt.Str("severity", string(severity))
	for k, v := range tags {
		evt = evt.Str("tag_"+k, v)
	}
	for k, v := range extra {
		evt = evt.Interface(k, v)
	}
	evt.Msg(text)
}

// ---------------------------------------------------------------------------
// Mock alerter (test double)
// ---------------------------------------------------------------------------

// Capture records a single CaptureMessage call.
type Capture struct {
	Text     string
	Severity Severity
	Tags     map[string]string
	Extra    map[string]interface{}
}

// MockAlerter records captures for assertions.
type MockAlerter struct {
	mu       sync.Mutex
	captures []Capture
}

func (m *MockAlerter) CaptureMessage(text string, severity Severity, tags map[string]string, extra map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, Capture{Text: text, Severity: severity, Tags: tags, Extra: extra})
}

// Captures returns a copy of recorded captures.
func (m *MockAlerter) Captures() []Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Capture, len(m.captures))
	copy(out, m.captures)
	return out
}

// CriticalCount returns how many critical captures were recorded.
func (m *MockAlerter) CriticalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.captures {
		if c.Severity == SeverityCritical {
			n++
		}
	}
	return n
}
