package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
)

// MockGenerator returns canned content and is used in development and tests.
// FailTimes makes the first N calls fail; Err alone fails every call.
// OnGenerate, when set, runs at the start of every call.
type MockGenerator struct {
	mu         sync.Mutex
	FailTimes  int
	Err        error
	OnGenerate func()
	calls      int
	Requests   []GenerationRequest
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockGenerator) Generate(ctx context.Context, req GenerationRequest) (GeneratedContent, error) {
	m.mu.Lock()
	m.calls++
	m.Requests = append(m.Requests, req)
	fail := m.calls <= m.FailTimes || (m.Err != nil && m.FailTimes == 0)
	hook := m.OnGenerate
	m.mu.Unlock()

	if hook != nil {
		hook()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		if m.Err != nil {
			return nil, m.Err
		}
		return nil, fmt.Errorf("%w: mock failure", ErrMalformedContent)
	}

	theme := req.Theme
	if theme == "" {
		theme = "account"
	}
	title := strings.ToUpper(theme[:1]) + theme[1:]

	phishing := req.ContentType == models.EmailTypePhishing
	indicators := []string{}
	explanation := fmt.Sprintf("A routine %s notice from a known sender with no pressure to act.", theme)
	if phishing {
		indicators = []string{"Urgent language", "Mismatched sender domain", "Request to click a link"}
		explanation = fmt.Sprintf("Impersonates a %s contact and pushes the reader to act immediately.", theme)
	}

	if req.MessageType == MessageTypeSMS {
		msg := fmt.Sprintf("%s update: see details at %s", title, utils.TrackingURLPlaceholder)
		if phishing {
			msg = fmt.Sprintf("URGENT %s alert: verify now at %s or lose access", title, utils.TrackingURLPlaceholder)
		}
		return SMSContent{
			PhoneNumber:        "+15555550123",
			ContactName:        title + " Team",
			Message:            msg,
			PhishingIndicators: indicators,
			ExplanationText:    explanation,
		}, nil
	}

	subject := fmt.Sprintf("Your %s update", theme)
	sender := fmt.Sprintf("no-reply@%s.example.com", theme)
	body := fmt.Sprintf("Hello,\n\nThere is a new %s update for you.\n\nRead it here: %s\n\nRegards", theme, utils.TrackingURLPlaceholder)
	if phishing {
		subject = fmt.Sprintf("Action required: %s account suspended", title)
		sender = fmt.Sprintf("security@%s-verify.example.net", theme)
		body = fmt.Sprintf("Dear customer,\n\nWe detected unusual activity on your %s account. Verify within 24 hours or it will be closed.\n\n%s\n\nSecurity Team", theme, utils.TrackingURLPlaceholder)
	}

	return EmailContent{
		Subject:            subject,
		Sender:             sender,
		Body:               body,
		PhishingIndicators: indicators,
		ExplanationText:    explanation,
	}, nil
}
