package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/pkg/httpclient"
)

// Gateway delivers a single notification job on one channel and returns the
// provider's message ID.
type Gateway interface {
	Name() string
	Send(ctx context.Context, job *Job) (providerID string, err error)
}

// PermanentError marks a delivery failure that retrying cannot fix
// (malformed recipient, rejected credentials). The dispatcher fails the job
// immediately instead of backing off.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return e.Reason
}

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidE164 reports whether number is a well-formed E.164 phone number.
func ValidE164(number string) bool {
	return e164Pattern.MatchString(number)
}

// SMSGateway posts message bodies to an external SMS provider over HTTP.
type SMSGateway struct {
	url    string
	token  string
	from   string
	client *http.Client
}

// NewSMSGateway builds the SMS channel against the configured provider
// endpoint. The HTTP client resolves hosts through the shared DNS cache so
// bursts of alert fan-out do not hammer the resolver.
func NewSMSGateway(cfg *config.Config) *SMSGateway {
	return &SMSGateway{
		url:    cfg.SMSProviderURL,
		token:  cfg.SMSProviderToken,
		from:   cfg.SMSFromNumber,
		client: httpclient.New(30 * time.Second),
	}
}

func (g *SMSGateway) Name() string { return "sms" }

type smsRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	ProviderID string `json:"provider_id"`
	ID         string `json:"id"`
	Error      string `json:"error,omitempty"`
}

// Send submits one SMS. Invalid recipients and auth rejections come back as
// PermanentError; provider 5xx and transport errors are retryable.
func (g *SMSGateway) Send(ctx context.Context, job *Job) (string, error) {
	if !ValidE164(job.Recipient) {
		return "", &PermanentError{Reason: fmt.Sprintf("recipient %q is not a valid E.164 number", job.Recipient)}
	}

	payload, err := json.Marshal(smsRequest{
		From: g.from,
		To:   job.Recipient,
		Body: TruncateSMS(job.Body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode SMS payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vigia-Monitoring/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("SMS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out smsResponse
		if err := json.Unmarshal(body, &out); err == nil {
			if out.ProviderID != "" {
				return out.ProviderID, nil
			}
			if out.ID != "" {
				return out.ID, nil
			}
		}
		// Provider accepted but returned no ID; synthesize one so the job
		// still records a delivery reference.
		return "sms_" + ulid.Make().String(), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &PermanentError{Reason: fmt.Sprintf("SMS provider rejected credentials (status %d)", resp.StatusCode)}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", &PermanentError{Reason: fmt.Sprintf("SMS provider rejected message (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	default:
		return "", fmt.Errorf("SMS provider returned status %d", resp.StatusCode)
	}
}

// WebhookGateway posts the job body to a fixed URL as JSON.
type WebhookGateway struct {
	url    string
	client *http.Client
}

func NewWebhookGateway(url string) *WebhookGateway {
	return &WebhookGateway{
		url:    url,
		client: httpclient.New(30 * time.Second),
	}
}

func (g *WebhookGateway) Name() string { return "webhook" }

func (g *WebhookGateway) Send(ctx context.Context, job *Job) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"alertId":   job.AlertID,
		"recipient": job.Recipient,
		"message":   job.Body,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	url := g.url
	if url == "" {
		url = job.Recipient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vigia-Monitoring/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", &PermanentError{Reason: fmt.Sprintf("webhook returned status %d", resp.StatusCode)}
		}
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return "wh_" + ulid.Make().String(), nil
}

// SimGateway logs deliveries instead of sending them. It stands in for any
// channel with no configured provider, so alert flow can be exercised end
// to end in development.
type SimGateway struct {
	channel string
}

func NewSimGateway(channel string) *SimGateway {
	return &SimGateway{channel: channel}
}

func (g *SimGateway) Name() string { return g.channel }

func (g *SimGateway) Send(ctx context.Context, job *Job) (string, error) {
	if g.channel == "sms" && !ValidE164(job.Recipient) {
		return "", &PermanentError{Reason: fmt.Sprintf("recipient %q is not a valid E.164 number", job.Recipient)}
	}
	log.Info().
		Str("channel", g.channel).
		Str("alert", job.AlertID).
		Str("recipient", job.Recipient).
		Int("bodyUnits", len([]rune(job.Body))).
		Msg("Simulated notification delivery")
	return "sim_" + ulid.Make().String(), nil
}

// BuildGateways wires one gateway per channel from configuration. Channels
// without provider settings fall back to the simulator.
func BuildGateways(cfg *config.Config) map[string]Gateway {
	gateways := make(map[string]Gateway)

	if cfg.SMSProviderURL != "" {
		gateways["sms"] = NewSMSGateway(cfg)
		log.Info().Str("provider", cfg.SMSProviderURL).Msg("SMS gateway configured")
	} else {
		gateways["sms"] = NewSimGateway("sms")
		log.Warn().Msg("No SMS provider configured, using simulated delivery")
	}

	if cfg.WebhookURL != "" {
		gateways["webhook"] = NewWebhookGateway(cfg.WebhookURL)
	} else {
		gateways["webhook"] = NewWebhookGateway("")
	}

	return gateways
}
