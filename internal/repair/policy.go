package repair

import (
	"fmt"
	"time"
)

// Policy bounds one repair invocation. It is fixed at construction.
type Policy struct {
	MaxAttempts          int
	MaxPatchLines        int
	AbortOnNoImprovement int
	TimeCap              time.Duration
}

// DefaultPolicy returns the stock budgets.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:          3,
		MaxPatchLines:        150,
		AbortOnNoImprovement: 2,
		TimeCap:              1200 * time.Second,
	}
}

// Validate checks that every budget is positive.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be a positive integer, got %d", p.MaxAttempts)
	case p.MaxPatchLines < 1:
		return fmt.Errorf("max_patch_lines must be a positive integer, got %d", p.MaxPatchLines)
	case p.AbortOnNoImprovement < 1:
		return fmt.Errorf("abort_on_no_improvement must be a positive integer, got %d", p.AbortOnNoImprovement)
	case p.TimeCap < time.Second:
		return fmt.Errorf("time_cap_seconds must be a positive integer, got %s", p.TimeCap)
	}
	return nil
}
