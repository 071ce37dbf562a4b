package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// SendGridTransport delivers email through the SendGrid v3 API
type SendGridTransport struct {
	client *sendgrid.Client
	logger *zap.Logger
}

func NewSendGridTransport(apiKey string, logger *zap.Logger) (*SendGridTransport, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridTransport{
		client: sendgrid.NewSendClient(apiKey),
		logger: logger,
	}, nil
}

func (t *SendGridTransport) Send(ctx context.Context, msg OutboundEmail) error {
	from := mail.NewEmail(msg.FromName, msg.FromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.TextBody, msg.HTMLBody)

	response, err := t.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		t.logger.Warn("sendgrid rejected message",
			zap.Int("status", response.StatusCode),
			zap.String("body", response.Body),
		)
		return fmt.Errorf("%w: sendgrid status %d", ErrTransportRejected, response.StatusCode)
	}

	t.logger.Debug("email accepted by sendgrid", zap.Int("status", response.StatusCode))
	return nil
}
