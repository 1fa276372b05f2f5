// Package push delivers notifications through the Expo push service.
//
// Delivery is best effort. Send and SendDigest never return errors: transport,
// HTTP, and decoding failures are folded into tickets with status "error" so
// callers can log them without branching on error values.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

// Defaults.
const (
	DefaultURL     = "https://exp.host/--/api/v2/push/send"
	DefaultTimeout = 15 * time.Second

	maxBodyRunes = 100
)

// Message is one Expo push message.
type Message struct {
	To        string         `json:"to"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Sound     string         `json:"sound,omitempty"`
	Badge     *int           `json:"badge,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	TTL       int            `json:"ttl,omitempty"`
}

type sendResponse struct {
	Data []domain.PushTicket `json:"data"`
}

// Config configures a Client. AccessToken is optional and only needed when
// enhanced push security is enabled for the Expo project.
type Config struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
}

// Client posts messages to the Expo push endpoint. Safe for concurrent use.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// New builds a Client with defaults for zero config values.
func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		url:   cfg.URL,
		token: strings.TrimSpace(cfg.AccessToken),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// IsValidToken reports whether token looks like an Expo push token.
func IsValidToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

// Send delivers one message and returns its ticket. The message is posted as
// a one-element array so the response always carries a ticket list.
func (c *Client) Send(ctx context.Context, m Message) domain.PushTicket {
	tickets, err := c.post(ctx, []Message{m})
	if err != nil {
		log.Warn().Err(err).Str("to", redactToken(m.To)).Msg("push send failed")
		return domain.PushTicket{Status: domain.TicketError, Message: err.Error()}
	}
	if len(tickets) == 0 {
		return domain.PushTicket{Status: domain.TicketError, Message: "No ticket returned"}
	}
	t := tickets[0]
	if t.OK() {
		log.Debug().Str("ticket_id", t.ID).Msg("push accepted")
	} else {
		log.Warn().Str("to", redactToken(m.To)).Str("reason", t.Message).Msg("push rejected")
	}
	return t
}

// SendDigest announces a ready digest. Invalid tokens are rejected locally
// without network I/O.
func (c *Client) SendDigest(ctx context.Context, token, digestID, title, preview string) domain.PushTicket {
	tr := otel.Tracer("push/Client")
	ctx, span := tr.Start(ctx, "SendDigest", trace.WithAttributes(attribute.String("digest.id", digestID)))
	defer span.End()

	if !IsValidToken(token) {
		span.SetAttributes(attribute.String("push.status", domain.TicketError))
		return domain.PushTicket{Status: domain.TicketError, Message: "Invalid push token format"}
	}
	t := c.Send(ctx, DigestMessage(token, digestID, title, preview))
	span.SetAttributes(attribute.String("push.status", t.Status))
	return t
}

// DigestMessage builds the notification for a digest: the title gets a
// newspaper prefix, the body is clipped to 100 characters, and the data
// payload routes the app to the digest detail screen.
func DigestMessage(token, digestID, title, preview string) Message {
	return Message{
		To:    token,
		Title: "📰 " + title,
		Body:  clip(preview),
		Data: map[string]any{
			"type":     "digest",
			"digestId": digestID,
			"screen":   "DigestDetail",
		},
		Sound:     "default",
		Priority:  "high",
		ChannelID: "digest",
	}
}

func (c *Client) post(ctx context.Context, payload []Message) ([]domain.PushTicket, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal push payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("expo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	return out.Data, nil
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxBodyRunes {
		return s
	}
	return string([]rune(s)[:maxBodyRunes-3]) + "..."
}

// redactToken keeps enough of a token to correlate log lines.
func redactToken(tok string) string {
	if utf8.RuneCountInString(tok) <= 20 {
		return tok
	}
	return string([]rune(tok)[:20]) + "..."
}
