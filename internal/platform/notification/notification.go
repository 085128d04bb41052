// Package notification wraps the outbound email-delivery service. The outbox
// dispatcher is the only production caller; it sends at most one email per
// ticket activation and records the outcome on the outbox row.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
)

// SendResult reports the outcome of a single delivery attempt.
type SendResult struct {
	MessageID string
	Err       error
}

// EmailSender is the interface for the email-delivery collaborator.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// ---------------------------------------------------------------------------
// SMTP sender
// ---------------------------------------------------------------------------

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	addr string // host:port
	from string
	auth smtp.Auth
}

// NewSMTPSender builds a sender for the given relay. Username may be empty
// for unauthenticated relays.
func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	s := &SMTPSender{addr: addr, from: from}
	if username != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.from, to, subject, body)
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", to, err)
	}
	// Plain SMTP gives us no provider message id; callers treat empty as sent.
	return "", nil
}

// ---------------------------------------------------------------------------
// Template engine
// ---------------------------------------------------------------------------

// Template defines a reusable email template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages email templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "certificate-issued",
			Name:    "Certificate Issued",
			Subject: "Your medical certificate is ready",
			Body:    "Dear {{patient_name}}, your {{certificate_type}} certificate has been approved by {{doctor_name}}. Download it here: {{download_url}}. Verification code: {{verification_code}}.",
		},
		{
			ID:      "certificate-resend",
			Name:    "Certificate Resend",
			Subject: "Your medical certificate (resent)",
			Body:    "Dear {{patient_name}}, here is your medical certificate again, as requested. Download it here: {{download_url}}.",
		},
		{
			ID:      "request-declined",
			Name:    "Request Declined",
			Subject: "Update on your certificate request",
			Body:    "Dear {{patient_name}}, after clinical review we are unable to issue a certificate for this request. A member of our team will contact you if follow-up is appropriate.",
		},
		{
			ID:      "info-requested",
			Name:    "Information Requested",
			Subject: "We need more information about your request",
			Body:    "Dear {{patient_name}}, the reviewing doctor needs more information before a decision can be made: {{message}}. Please reply through your patient portal.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock sender (test double)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		if m.FailError == "" {
			m.FailError = "send failed"
		}
		return "", errors.New(m.FailError)
	}
	return fmt.Sprintf("msg-%d", len(m.calls)), nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
