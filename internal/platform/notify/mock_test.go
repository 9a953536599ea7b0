package notify

import (
	"context"
	"errors"
	"sync"
)

type emailCall struct {
	To      string
	Subject string
	Body    string
}

type mockEmailSender struct {
	mu         sync.Mutex
	calls      []emailCall
	ShouldFail bool
}

func (m *mockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, emailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New("email provider down")
	}
	return nil
}

func (m *mockEmailSender) Calls() []emailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]emailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

type mockSMSSender struct {
	mu         sync.Mutex
	calls      []string
	ShouldFail bool
}

func (m *mockSMSSender) SendSMS(_ context.Context, to, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, to)
	if m.ShouldFail {
		return errors.New("sms provider down")
	}
	return nil
}
