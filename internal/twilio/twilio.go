// Package twilio sends WhatsApp messages and downloads inbound media
// through the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/config"
)

const (
	requestTimeout = 30 * time.Second
	maxMediaBytes  = 25 << 20
	whatsappPrefix = "whatsapp:"
)

// ErrDisabled is returned when no account is configured.
var ErrDisabled = errors.New("twilio: account not configured")

// Client talks to the Twilio Messages API with basic auth.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	http       *http.Client

	maxRetries int
	backoff    time.Duration
}

// New returns a Client built from cfg.
func New(cfg config.TwilioConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		http:       &http.Client{Timeout: requestTimeout},
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
	}
}

// WithRetry overrides the retry count and base backoff for 5xx responses.
func (c *Client) WithRetry(maxRetries int, backoff time.Duration) *Client {
	if maxRetries >= 0 {
		c.maxRetries = maxRetries
	}
	if backoff > 0 {
		c.backoff = backoff
	}
	return c
}

// Enabled reports whether an account is configured.
func (c *Client) Enabled() bool { return c.accountSID != "" }

// Address prefixes a bare phone number with the WhatsApp channel marker.
func Address(phone string) string {
	if strings.HasPrefix(phone, whatsappPrefix) {
		return phone
	}
	return whatsappPrefix + phone
}

// StripAddress removes the WhatsApp channel marker from a phone number.
func StripAddress(addr string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(addr), whatsappPrefix))
}

// Send delivers a text message and returns the provider message SID.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	form := url.Values{
		"From": {Address(c.from)},
		"To":   {Address(to)},
		"Body": {body},
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))

	var lastErr error
	for try := 0; try <= c.maxRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("twilio: send: %w", ctx.Err())
			case <-time.After(c.backoff * time.Duration(try)):
			}
		}
		sid, retry, err := c.sendOnce(ctx, endpoint, form)
		if err == nil {
			return sid, nil
		}
		lastErr = err
		if !retry {
			break
		}
		log.Printf("twilio: send to %s failed (attempt %d): %v", to, try+1, err)
	}
	return "", fmt.Errorf("twilio: send: %w", lastErr)
}

// sendOnce posts the message form. retry is true for 5xx responses.
func (c *Client) sendOnce(ctx context.Context, endpoint string, form url.Values) (sid string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", false, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode > 299 {
		return "", false, fmt.Errorf("status %d: %s", resp.StatusCode, apiMessage(b))
	}
	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", false, fmt.Errorf("decode: %w", err)
	}
	return out.SID, false, nil
}

// apiMessage extracts the message field of a Twilio error body.
func apiMessage(b []byte) string {
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &e) == nil && e.Message != "" {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return strings.TrimSpace(string(b))
}

// DownloadMedia fetches an inbound media URL using the account credentials.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: download media: %w", err)
	}
	if c.accountSID != "" {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode > 299 {
		return nil, fmt.Errorf("twilio: download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("twilio: download media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("twilio: download media: larger than %d bytes", maxMediaBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("twilio: download media: empty body")
	}
	return data, nil
}
