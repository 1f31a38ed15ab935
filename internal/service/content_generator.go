package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/pkg/config"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

const maxGeneratorResponseBytes = 4 << 20

// ContentGenerator turns a prompt into untrusted text expected to contain JSON.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator calls the Google Generative Language REST API.
type GeminiGenerator struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewGeminiGenerator constructs the adapter. A nil client uses http.DefaultClient.
func NewGeminiGenerator(cfg config.GeneratorConfig, client *http.Client, logger *zap.Logger) *GeminiGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GeminiGenerator{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  client,
		logger:  logger,
	}
}

// Configured reports whether a credential is present.
func (g *GeminiGenerator) Configured() bool {
	return g != nil && g.apiKey != "" && g.baseURL != "" && g.model != ""
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends prompt and returns the concatenated text of the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if !g.Configured() {
		return "", appErrors.Clone(appErrors.ErrConfiguration, "GOOGLE_GENERATIVE_AI_API_KEY is missing")
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode generator request")
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", appErrors.CloneWrap(appErrors.ErrConfiguration, err, "invalid generator endpoint")
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return "", g.classifyTransportError(err, false)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxGeneratorResponseBytes))
	if err != nil {
		return "", g.classifyTransportError(err, true)
	}
	g.logger.Debug("generator call completed",
		zap.String("model", g.model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("generator rejected credentials or model (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return "", appErrors.Clone(appErrors.ErrGeneratorUnavailable, fmt.Sprintf("generator unavailable (status %d)", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("generator rejected request (status %d)", resp.StatusCode))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", appErrors.CloneWrap(appErrors.ErrMalformedResponse, err, "generator envelope is not valid JSON")
	}
	if len(decoded.Candidates) == 0 {
		return "", appErrors.Clone(appErrors.ErrMalformedResponse, "generator returned no candidates")
	}
	var text strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", appErrors.Clone(appErrors.ErrMalformedResponse, "generator returned empty text")
	}
	return text.String(), nil
}

// classifyTransportError maps client failures. A host that never answered is a
// deployment problem and fatal; a response cut short after connecting is not.
func (g *GeminiGenerator) classifyTransportError(err error, connected bool) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return appErrors.CloneWrap(appErrors.ErrGeneratorTimeout, err, fmt.Sprintf("generator call exceeded %s", g.timeout))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if connected {
		return appErrors.CloneWrap(appErrors.ErrGeneratorUnavailable, err, "generator response was interrupted")
	}
	return appErrors.CloneWrap(appErrors.ErrConfiguration, err, fmt.Sprintf("generator at %s is unreachable", g.baseURL))
}

// StripFences removes Markdown code fences that models wrap JSON in.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
