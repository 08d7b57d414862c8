package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/ratelimit"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini is a Generator backed by the Gemini REST API.
type Gemini struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
	Sleep      func(ctx context.Context, d time.Duration) error
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Gemini) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate calls the model, retrying rate-limit and server errors with
// exponential backoff.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	retries := g.MaxRetries
	if retries < 1 {
		retries = 3
	}
	backoff := g.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if g.Limiter != nil {
			ok, retryAfter, err := g.Limiter.Allow(ctx, "gemini")
			if err != nil {
				return "", err
			}
			if !ok {
				if err := g.sleep(ctx, retryAfter); err != nil {
					return "", err
				}
			}
		}
		text, err := g.call(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) || attempt == retries {
			break
		}
		wait := backoff * time.Duration(1<<(attempt-1))
		g.logger().Warn("generation retry", "attempt", attempt, "wait", wait, "err", err)
		if err := g.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

type apiStatusError struct {
	code    int
	message string
}

func (e apiStatusError) Error() string {
	return fmt.Sprintf("gemini api status %d: %s", e.code, e.message)
}

func retryable(err error) bool {
	var statusErr apiStatusError
	if !asStatus(err, &statusErr) {
		return false
	}
	if statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500 {
		return true
	}
	msg := strings.ToLower(statusErr.message)
	return strings.Contains(msg, "rate") || strings.Contains(msg, "internal")
}

func asStatus(err error, out *apiStatusError) bool {
	se, ok := err.(apiStatusError)
	if ok {
		*out = se
	}
	return ok
}

func (g *Gemini) call(ctx context.Context, req Request) (string, error) {
	base := g.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	model := g.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, model, g.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini response: %w", err)
	}
	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", apiStatusError{code: resp.StatusCode, message: string(data)}
		}
		return "", fmt.Errorf("gemini response parse: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", apiStatusError{code: resp.StatusCode, message: msg}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate list", ErrUnusableOutput)
	}
	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
