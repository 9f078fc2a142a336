package budget

import "fmt"

// EstimateMode selects how output tokens are guessed before a call is made.
type EstimateMode string

const (
	// EstimateInputOnly prices input tokens only. The estimate is a lower bound.
	EstimateInputOnly EstimateMode = "input_only"
	// EstimateMirrorInput assumes the reply is as long as the prompt.
	EstimateMirrorInput EstimateMode = "mirror_input"
	// EstimateFixed assumes a fixed number of output tokens.
	EstimateFixed EstimateMode = "fixed"
)

// EstimatePolicy controls the output side of a pre-call cost estimate.
// The zero value is EstimateInputOnly.
type EstimatePolicy struct {
	Mode         EstimateMode `yaml:"mode"`
	OutputTokens int          `yaml:"output_tokens"`
}

// ParseEstimateMode validates a mode name. Empty means EstimateInputOnly.
func ParseEstimateMode(s string) (EstimateMode, error) {
	switch EstimateMode(s) {
	case "", EstimateInputOnly:
		return EstimateInputOnly, nil
	case EstimateMirrorInput, EstimateFixed:
		return EstimateMode(s), nil
	default:
		return "", fmt.Errorf("unknown output estimate mode %q", s)
	}
}

// OutputTokensFor returns the assumed output tokens for a prompt of inputTokens.
func (p EstimatePolicy) OutputTokensFor(inputTokens int) int {
	switch p.Mode {
	case EstimateMirrorInput:
		return inputTokens
	case EstimateFixed:
		return p.OutputTokens
	default:
		return 0
	}
}
