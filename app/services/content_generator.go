// Package services provides external service integrations such as content generation, delivery and tokens
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/utils"
	"github.com/nyaruka/phonenumbers"
)

// MessageType selects the variant of generated content
type MessageType string

const (
	MessageTypeEmail MessageType = "email"
	MessageTypeSMS   MessageType = "sms"
)

func (m MessageType) Valid() bool {
	return m == MessageTypeEmail || m == MessageTypeSMS
}

// ErrMalformedContent is returned when the generator payload cannot be used
var ErrMalformedContent = errors.New("malformed generated content")

// GenerationRequest is what the engine asks the generation collaborator for
type GenerationRequest struct {
	MessageType MessageType
	ContentType models.EmailType
	Difficulty  models.DifficultyLevel
	Theme       string
}

// ContentGenerator produces simulated message content
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (GeneratedContent, error)
}

// GeneratedContent is a closed union of EmailContent and SMSContent
type GeneratedContent interface {
	MessageType() MessageType
	Indicators() []string
	Explanation() string
	isGeneratedContent()
}

// EmailContent is the email variant of generated content
type EmailContent struct {
	Subject            string   `json:"subject"`
	Sender             string   `json:"sender"`
	Recipient          string   `json:"recipient"`
	Body               string   `json:"body"`
	PhishingIndicators []string `json:"phishing_indicators"`
	ExplanationText    string   `json:"explanation"`
}

func (EmailContent) MessageType() MessageType { return MessageTypeEmail }
func (c EmailContent) Indicators() []string   { return c.PhishingIndicators }
func (c EmailContent) Explanation() string    { return c.ExplanationText }
func (EmailContent) isGeneratedContent()      {}

// SMSContent is the SMS variant of generated content
type SMSContent struct {
	PhoneNumber        string   `json:"phone_number"`
	ContactName        string   `json:"contact_name"`
	Message            string   `json:"message"`
	PhishingIndicators []string `json:"phishing_indicators"`
	ExplanationText    string   `json:"explanation"`
}

func (SMSContent) MessageType() MessageType { return MessageTypeSMS }
func (c SMSContent) Indicators() []string   { return c.PhishingIndicators }
func (c SMSContent) Explanation() string    { return c.ExplanationText }
func (SMSContent) isGeneratedContent()      {}

// rawGeneratedContent mirrors the loose collaborator payload before it is narrowed to a variant
type rawGeneratedContent struct {
	Subject            *string  `json:"subject"`
	Sender             *string  `json:"sender"`
	Recipient          *string  `json:"recipient"`
	Body               *string  `json:"body"`
	PhoneNumber        *string  `json:"phone_number"`
	ContactName        *string  `json:"contact_name"`
	Message            *string  `json:"message"`
	PhishingIndicators []string `json:"phishing_indicators"`
	Explanation        *string  `json:"explanation"`
}

// ParseGeneratedContent narrows a collaborator JSON payload into the variant selected by req.
// Empty strings and the literal "null" count as missing.
func ParseGeneratedContent(req GenerationRequest, payload []byte) (GeneratedContent, error) {
	var raw rawGeneratedContent
	if err := json.Unmarshal([]byte(stripCodeFence(string(payload))), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	indicators := cleanIndicators(raw.PhishingIndicators)
	if req.ContentType == models.EmailTypeLegitimate {
		indicators = []string{}
	}
	explanation := clean(raw.Explanation)

	switch req.MessageType {
	case MessageTypeEmail:
		content := EmailContent{
			Subject:            clean(raw.Subject),
			Sender:             clean(raw.Sender),
			Recipient:          clean(raw.Recipient),
			Body:               clean(raw.Body),
			PhishingIndicators: indicators,
			ExplanationText:    explanation,
		}
		if err := requireFields(map[string]string{
			"subject": content.Subject,
			"sender":  content.Sender,
			"body":    content.Body,
		}); err != nil {
			return nil, err
		}
		return content, nil
	case MessageTypeSMS:
		content := SMSContent{
			PhoneNumber:        normalizePhoneNumber(clean(raw.PhoneNumber)),
			ContactName:        clean(raw.ContactName),
			Message:            clean(raw.Message),
			PhishingIndicators: indicators,
			ExplanationText:    explanation,
		}
		if err := requireFields(map[string]string{
			"phone_number": content.PhoneNumber,
			"contact_name": content.ContactName,
			"message":      content.Message,
		}); err != nil {
			return nil, err
		}
		return content, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedContent, req.MessageType)
	}
}

// normalizePhoneNumber formats parseable numbers as E.164 and keeps short codes untouched
func normalizePhoneNumber(raw string) string {
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, "US")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func requireFields(fields map[string]string) error {
	for _, name := range []string{"subject", "sender", "body", "phone_number", "contact_name", "message"} {
		v, ok := fields[name]
		if ok && v == "" {
			return fmt.Errorf("%w: missing required field %s", ErrMalformedContent, name)
		}
	}
	return nil
}

func clean(v *string) string {
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(*v)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func cleanIndicators(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !strings.EqualFold(v, "null") {
			out = append(out, v)
		}
	}
	return out
}

// stripCodeFence drops a markdown code fence some models wrap JSON in
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// BuildGenerationPrompt renders the instruction sent to a language model
func BuildGenerationPrompt(req GenerationRequest) string {
	var b strings.Builder
	b.WriteString("You generate training material for phishing awareness education.\n")
	fmt.Fprintf(&b, "Generate a %s %s with %s difficulty.\n", req.ContentType, req.MessageType, req.Difficulty)
	if req.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", req.Theme)
	}

	if req.ContentType == models.EmailTypePhishing {
		b.WriteString("Make it realistic with subtle phishing indicators a trainee should learn to spot, ")
		b.WriteString("such as urgency, impersonation, suspicious links or requests for personal information.\n")
		fmt.Fprintf(&b, "Place the literal text %s where the call-to-action link belongs.\n", utils.TrackingURLPlaceholder)
	} else {
		b.WriteString("Make it a legitimate, professional message that is safe to interact with.\n")
		fmt.Fprintf(&b, "Place the literal text %s where a link to the full content belongs.\n", utils.TrackingURLPlaceholder)
	}

	b.WriteString("Respond with a single JSON object and nothing else, using this structure:\n")
	if req.MessageType == MessageTypeSMS {
		b.WriteString(`{"phone_number": "+15555550123", "contact_name": "Contact Name", "message": "SMS text under 160 characters", "phishing_indicators": ["indicator"], "explanation": "Why this is phishing or legitimate"}`)
	} else {
		b.WriteString(`{"subject": "Subject line", "sender": "sender@example.com", "recipient": "recipient@example.com", "body": "Email body", "phishing_indicators": ["indicator"], "explanation": "Why this is phishing or legitimate"}`)
	}
	b.WriteString("\nFor legitimate content set phishing_indicators to an empty list.\n")
	return b.String()
}
