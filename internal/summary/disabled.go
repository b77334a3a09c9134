package summary

import "context"

// Disabled is the no-op provider used when summarization is turned off. It
// returns an empty summary so the snapshot publishes without one.
type Disabled struct{}

// NewDisabled creates the no-op provider.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Name returns the provider name
func (d *Disabled) Name() string {
	return "disabled"
}

// Summarize returns an empty summary.
func (d *Disabled) Summarize(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
