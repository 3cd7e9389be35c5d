package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hivemail/internal/credentials"
	"hivemail/internal/logging"
)

// HTTPSourceConfig configures a Gmail-style REST source.
type HTTPSourceConfig struct {
	// BaseURL is the provider API root, e.g.
	// "https://gmail.googleapis.com/gmail/v1".
	BaseURL string

	// Platform tags fetched messages, e.g. "gmail".
	Platform string

	// Username is the mailbox owner recorded on each message.
	Username string

	// TokenSecret names the bearer token in the credential provider.
	TokenSecret string

	Credentials credentials.Provider
	Client      *http.Client
	Logger      *slog.Logger
}

// HTTPSource fetches messages from a Gmail-style REST API: a list call
// filtered by an unread + after query, then one get per listed id. The
// OAuth token is fetched once per Fetch call and never logged.
type HTTPSource struct {
	cfg    HTTPSourceConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSource creates an HTTP mail source.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http source: base URL is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("http source: credential provider is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{
		cfg:    cfg,
		client: client,
		logger: logging.Component(cfg.Logger, "mail-source").With("type", "http"),
	}, nil
}

// listResponse is the provider's message list shape.
type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// fullMessage is the provider's per-message shape.
type fullMessage struct {
	ID           string `json:"id"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"` // epoch millis as string
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Fetch lists unread messages received after the watermark and resolves
// each to a full message. A failure resolving one id does not abort the
// rest; the partial result is returned alongside the first error only
// when nothing could be fetched at all.
func (s *HTTPSource) Fetch(ctx context.Context, since time.Time) ([]Message, error) {
	token, err := s.cfg.Credentials.Get(ctx, s.cfg.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("fetch credential %q: %w", s.cfg.TokenSecret, err)
	}

	ids, err := s.list(ctx, token, since)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(ids))
	var failed int
	for _, id := range ids {
		msg, err := s.get(ctx, token, id)
		if err != nil {
			failed++
			s.logger.Warn("message fetch failed", "id", id, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if failed > 0 && len(msgs) == 0 {
		return nil, fmt.Errorf("all %d message fetches failed", failed)
	}

	s.logger.Info("fetched messages", "listed", len(ids), "fetched", len(msgs), "failed", failed)
	return msgs, nil
}

func (s *HTTPSource) list(ctx context.Context, token string, since time.Time) ([]string, error) {
	q := "is:unread"
	if !since.IsZero() {
		q += " after:" + strconv.FormatInt(since.Unix(), 10)
	}
	u := fmt.Sprintf("%s/users/me/messages?q=%s", s.cfg.BaseURL, url.QueryEscape(q))

	var list listResponse
	if err := s.getJSON(ctx, token, u, &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(list.Messages))
	for _, m := range list.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *HTTPSource) get(ctx context.Context, token, id string) (Message, error) {
	u := fmt.Sprintf("%s/users/me/messages/%s?format=full", s.cfg.BaseURL, url.PathEscape(id))

	var full fullMessage
	if err := s.getJSON(ctx, token, u, &full); err != nil {
		return Message{}, err
	}
	return s.parse(full), nil
}

// parse normalizes a provider message. The snippet stands in for the full
// body; header extraction is case-insensitive.
func (s *HTTPSource) parse(full fullMessage) Message {
	received, _ := strconv.ParseInt(full.InternalDate, 10, 64)
	return Message{
		ID:         full.ID,
		Username:   s.cfg.Username,
		Platform:   s.cfg.Platform,
		Sender:     header(full, "From"),
		Recipient:  header(full, "To"),
		Subject:    header(full, "Subject"),
		Body:       full.Snippet,
		ReceivedAt: received,
	}
}

func header(full fullMessage, name string) string {
	for _, h := range full.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (s *HTTPSource) getJSON(ctx context.Context, token, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
