package services

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"strings"
	"sync"

	"github.com/amirphl/phishschool/utils"
	"go.uber.org/zap"
)

// OutboundEmail is what the dispatcher hands to a delivery transport
type OutboundEmail struct {
	FromEmail string
	FromName  string
	ToEmail   string
	ToName    string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// MailTransport delivers one rendered email. A nil error means the provider accepted it.
type MailTransport interface {
	Send(ctx context.Context, msg OutboundEmail) error
}

var ErrTransportRejected = errors.New("delivery transport rejected message")

var htmlEmailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
{{range .Paragraphs}}<p>{{range $i, $part := .}}{{if $part.Link}}<a href="{{$part.Link}}" style="color: #1a73e8;">{{$part.Text}}</a>{{else}}{{$part.Text}}{{end}}{{end}}</p>
{{end}}</body>
</html>
`))

type htmlPart struct {
	Text string
	Link string
}

// RenderTrackedEmail injects trackingURL into body and returns html and plain text variants.
// A body without the placeholder gets the link appended as its own paragraph.
func RenderTrackedEmail(subject, body, trackingURL string) (htmlBody, textBody string, err error) {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if !strings.Contains(body, utils.TrackingURLPlaceholder) {
		body = strings.TrimRight(body, "\n") + "\n\n" + utils.TrackingURLPlaceholder
	}

	textBody = strings.ReplaceAll(body, utils.TrackingURLPlaceholder, trackingURL)

	var paragraphs [][]htmlPart
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		var parts []htmlPart
		chunks := strings.Split(para, utils.TrackingURLPlaceholder)
		for i, chunk := range chunks {
			if chunk != "" {
				parts = append(parts, htmlPart{Text: chunk})
			}
			if i < len(chunks)-1 {
				parts = append(parts, htmlPart{Text: "Click here", Link: trackingURL})
			}
		}
		paragraphs = append(paragraphs, parts)
	}

	var buf bytes.Buffer
	if err := htmlEmailTemplate.Execute(&buf, map[string]any{
		"Subject":    subject,
		"Paragraphs": paragraphs,
	}); err != nil {
		return "", "", err
	}
	return buf.String(), textBody, nil
}

// MockTransport records messages instead of sending them
type MockTransport struct {
	mu        sync.Mutex
	Sent      []OutboundEmail
	FailTimes int
	Err       error
	calls     int
	logger    *zap.Logger
}

func NewMockTransport(logger *zap.Logger) *MockTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockTransport{logger: logger}
}

func (m *MockTransport) Send(ctx context.Context, msg OutboundEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.FailTimes || (m.Err != nil && m.FailTimes == 0) {
		if m.Err != nil {
			return m.Err
		}
		return ErrTransportRejected
	}
	m.Sent = append(m.Sent, msg)
	if m.logger != nil {
		m.logger.Info("mock email delivered",
			zap.String("to", msg.ToEmail),
			zap.String("subject", msg.Subject),
		)
	}
	return nil
}

// Messages returns a copy of everything delivered so far
func (m *MockTransport) Messages() []OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundEmail, len(m.Sent))
	copy(out, m.Sent)
	return out
}
