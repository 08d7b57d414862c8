package gen_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
)

type textGen string

func (g textGen) Generate(context.Context, gen.Request) (string, error) {
	return string(g), nil
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
		{"fence on same line as json", "```{\"a\":1}\n```", `{"a":1}`},
		{"plain text", "not json at all", "not json at all"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := gen.StripFences(tc.in); got != tc.want {
				t.Fatalf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestGenerateJSONDecodesFencedOutput(t *testing.T) {
	var out struct {
		Niche string `json:"niche"`
	}
	err := gen.GenerateJSON(context.Background(), textGen("```json\n{\"niche\":\"planners\"}\n```"), gen.Request{}, &out)
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if out.Niche != "planners" {
		t.Fatalf("niche = %q", out.Niche)
	}
}

func TestGenerateJSONUnusableOutput(t *testing.T) {
	var out map[string]any
	err := gen.GenerateJSON(context.Background(), textGen("I cannot answer that."), gen.Request{}, &out)
	if !errors.Is(err, gen.ErrUnusableOutput) {
		t.Fatalf("err = %v, want ErrUnusableOutput", err)
	}
}
