package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnusableOutput marks model output that survived transport but
// could not be parsed as the expected JSON document.
var ErrUnusableOutput = errors.New("unusable model output")

// Request is one structured generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Generator produces model text for a prompt. Implementations handle
// transport retries; callers handle output validation.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GenerateJSON runs a generation call and decodes the response into out.
// Markdown code fences around the JSON are tolerated and stripped.
func GenerateJSON(ctx context.Context, g Generator, req Request, out any) error {
	text, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	cleaned := StripFences(text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnusableOutput, err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, with or
// without a language tag, and trims whitespace.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
