// Package openai is a small REST client for the chat-completion and audio
// transcription endpoints used by the WhatsApp assistant and the catalog
// sync.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/config"
	"golang.org/x/oauth2"
)

// Request timeouts per endpoint.
const (
	chatTimeout       = 60 * time.Second
	transcribeTimeout = 120 * time.Second
	rewriteTimeout    = 45 * time.Second
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("openai: api key not configured")

// Client calls the OpenAI REST API. The bearer token is attached by an
// oauth2 static token source.
type Client struct {
	baseURL         string
	model           string
	transcribeModel string
	temperature     float64
	maxTokens       int
	enabled         bool
	http            *http.Client
}

// New returns a Client built from cfg.
func New(cfg config.OpenAIConfig) *Client {
	return NewWithHTTP(cfg, http.DefaultTransport)
}

// NewWithHTTP is New with an explicit base transport.
func NewWithHTTP(cfg config.OpenAIConfig, base http.RoundTripper) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		model:           cfg.Model,
		transcribeModel: cfg.TranscribeModel,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		enabled:         cfg.APIKey != "",
		http:            &http.Client{Transport: &oauth2.Transport{Source: src, Base: base}},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.enabled }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat runs a single system+user chat completion and returns the trimmed
// assistant text.
func (c *Client) Chat(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()
	return c.chat(ctx, system, user, temperature, maxTokens)
}

func (c *Client) chat(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai: chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai: chat: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: chat: no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

const replySystemPrompt = `Você é um atendente virtual da Exclusiva Lar Imóveis, uma imobiliária especializada.

Seu objetivo é:
- Ser cordial, profissional e prestativo
- Fazer perguntas para entender as necessidades do cliente
- Coletar informações sobre: orçamento, localização preferida, quantidade de quartos, características desejadas
- Manter o tom conversacional e amigável

IMPORTANTE: Suas respostas devem ser curtas e diretas (máximo 3 linhas).`

// Reply generates the assistant's next message given the conversation so
// far and the client's latest message.
func (c *Client) Reply(ctx context.Context, transcript, message string) (string, error) {
	var user strings.Builder
	if transcript != "" {
		fmt.Fprintf(&user, "Contexto anterior:\n%s\n\n", transcript)
	}
	fmt.Fprintf(&user, "Cliente: %s\n\nResponda:", message)
	return c.Chat(ctx, replySystemPrompt, user.String(), c.temperature, c.maxTokens)
}

// Transcribe uploads an audio file and returns its Portuguese transcription.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("model", c.transcribeModel)
	_ = w.WriteField("language", "pt")
	fw, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai: transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai: transcribe: decode: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", errors.New("openai: transcribe: empty transcription")
	}
	return text, nil
}

const describeSystemPrompt = "Você é especialista em marketing imobiliário. Gere descrições atraentes, estruturadas em HTML (<p>, <ul>, <li>, <strong>), corrigindo erros e garantindo texto conciso e topificado."

// FormatDescription rewrites a plain listing description as HTML.
func (c *Client) FormatDescription(ctx context.Context, text string) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()
	user := "Reescreva e organize a seguinte descrição de imóvel, mantendo todas as informações relevantes. Use marcadores quando fizer sentido e destaque os dados principais:\n\n" + text
	out, err := c.chat(ctx, describeSystemPrompt, user, 0.6, 800)
	if err != nil {
		return "", err
	}
	out = stripFences(out)
	if out == "" {
		return "", errors.New("openai: describe: empty response")
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence such as ```html.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "<{") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
