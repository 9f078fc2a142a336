package cache

import (
	"testing"

	"github.com/pario-ai/costgate/pkg/models"
)

func mustKey(t *testing.T, msgs []models.Message, provider, model string, params map[string]any) string {
	t.Helper()
	k, err := ComputeKey(msgs, provider, model, params)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestComputeKeyDeterministic(t *testing.T) {
	msgs := []models.Message{{Role: "user", Content: "hello"}}

	a := map[string]any{}
	a["temperature"] = 0.2
	a["max_tokens"] = 256
	a["stop"] = []string{"\n"}

	b := map[string]any{}
	b["stop"] = []string{"\n"}
	b["max_tokens"] = 256
	b["temperature"] = 0.2

	k1 := mustKey(t, msgs, "openai", "gpt-4o", a)
	k2 := mustKey(t, msgs, "openai", "gpt-4o", b)
	if k1 != k2 {
		t.Error("param order should not change the key")
	}
	if len(k1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(k1))
	}
}

func TestComputeKeyNestedParams(t *testing.T) {
	msgs := []models.Message{{Role: "user", Content: "hi"}}
	p1 := map[string]any{"response_format": map[string]any{"type": "json", "strict": true}}
	p2 := map[string]any{"response_format": map[string]any{"strict": true, "type": "json"}}

	if mustKey(t, msgs, "openai", "gpt-4o", p1) != mustKey(t, msgs, "openai", "gpt-4o", p2) {
		t.Error("nested param order should not change the key")
	}
}

func TestComputeKeyVaries(t *testing.T) {
	msgs := []models.Message{{Role: "user", Content: "hello"}}
	base := mustKey(t, msgs, "openai", "gpt-4o", map[string]any{"temperature": 0.2})

	variants := map[string]string{
		"content":  mustKey(t, []models.Message{{Role: "user", Content: "hello!"}}, "openai", "gpt-4o", map[string]any{"temperature": 0.2}),
		"role":     mustKey(t, []models.Message{{Role: "system", Content: "hello"}}, "openai", "gpt-4o", map[string]any{"temperature": 0.2}),
		"provider": mustKey(t, msgs, "anthropic", "gpt-4o", map[string]any{"temperature": 0.2}),
		"model":    mustKey(t, msgs, "openai", "gpt-4o-mini", map[string]any{"temperature": 0.2}),
		"param":    mustKey(t, msgs, "openai", "gpt-4o", map[string]any{"temperature": 0.3}),
		"no param": mustKey(t, msgs, "openai", "gpt-4o", nil),
	}
	for name, k := range variants {
		if k == base {
			t.Errorf("changing %s should change the key", name)
		}
	}
}

func TestComputeKeyNormalizesRole(t *testing.T) {
	a := mustKey(t, []models.Message{{Role: " User ", Content: "x"}}, "openai", "gpt-4o", nil)
	b := mustKey(t, []models.Message{{Role: "user", Content: "x"}}, "openai", "gpt-4o", nil)
	if a != b {
		t.Error("role case and padding should not change the key")
	}
}

func TestComputeKeyNilAndEmptyParams(t *testing.T) {
	msgs := []models.Message{{Role: "user", Content: "x"}}
	if mustKey(t, msgs, "openai", "gpt-4o", nil) != mustKey(t, msgs, "openai", "gpt-4o", map[string]any{}) {
		t.Error("nil and empty params should produce the same key")
	}
}

func TestComputeKeyUnencodableParam(t *testing.T) {
	_, err := ComputeKey(nil, "openai", "gpt-4o", map[string]any{"fn": func() {}})
	if err == nil {
		t.Error("expected error for unencodable param")
	}
}

func TestComputeContentHashIgnoresVolatileFields(t *testing.T) {
	a := models.Response{
		Content: "42", Model: "gpt-4o", Provider: "openai",
		ID: "chatcmpl-1", Created: 1700000000,
		Usage: &models.Usage{InputTokens: 10, OutputTokens: 1, TotalTokens: 11},
	}
	b := models.Response{
		Content: "42", Model: "gpt-4o", Provider: "openai",
		ID: "chatcmpl-2", Created: 1700000999, FinishReason: "stop",
		Usage: &models.Usage{InputTokens: 99, OutputTokens: 1, TotalTokens: 100},
		CacheHit: true,
	}
	if ComputeContentHash(a) != ComputeContentHash(b) {
		t.Error("volatile fields should not affect the content hash")
	}

	c := a
	c.Content = "43"
	if ComputeContentHash(a) == ComputeContentHash(c) {
		t.Error("different content should change the content hash")
	}
}
