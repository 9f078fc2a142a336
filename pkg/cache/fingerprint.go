package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
)

// Request identifies one exact LLM request.
type Request struct {
	Messages []models.Message
	Provider string
	Model    string
	Params   map[string]any
}

// Key returns the request fingerprint.
func (r Request) Key() (string, error) {
	return ComputeKey(r.Messages, r.Provider, r.Model, r.Params)
}

type canonicalRequest struct {
	Messages []models.Message `json:"messages"`
	Provider string           `json:"provider"`
	Model    string           `json:"model"`
	Params   [][2]any         `json:"params"`
}

// ComputeKey returns a SHA-256 hex digest over the normalized messages,
// provider, model and params. Params are sorted by name, so insertion order
// never changes the key.
func ComputeKey(messages []models.Message, provider, model string, params map[string]any) (string, error) {
	c := canonicalRequest{
		Messages: make([]models.Message, len(messages)),
		Provider: provider,
		Model:    model,
		Params:   make([][2]any, 0, len(params)),
	}
	for i, m := range messages {
		c.Messages[i] = models.Message{
			Role:    strings.ToLower(strings.TrimSpace(m.Role)),
			Content: m.Content,
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.Params = append(c.Params, [2]any{name, params[name]})
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// ComputeContentHash hashes only the meaningful fields of a response:
// content, model and provider. IDs, timestamps and usage are ignored.
func ComputeContentHash(resp models.Response) string {
	data, _ := json.Marshal(struct {
		Content  string `json:"content"`
		Model    string `json:"model"`
		Provider string `json:"provider"`
	}{resp.Content, resp.Model, resp.Provider})
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
