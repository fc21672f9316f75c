// Package plan defines the versioned plan schema produced from an intent
// and consumed by runs. The Plan struct is the single source of truth for
// the plan_json payload; everything entering the store goes through
// Validate first.
package plan

import (
	"fmt"
	"time"

	"github.com/localops/localops/internal/domain"
)

// SchemaVersion is the only plan_json version this build understands.
const SchemaVersion = "1.0"

// RiskLevel classifies the blast radius of a plan or command.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Plan is the structured recipe synthesized from an intent.
type Plan struct {
	Version     string    `json:"version"`
	Intent      string    `json:"intent"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Assumptions []string  `json:"assumptions"`
	Steps       []Step    `json:"steps"`
	Outputs     []string  `json:"outputs"`
}

// Step is one logical unit of a plan. A step may expand into several
// run steps, one per command.
type Step struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Commands        []string `json:"commands"`
	Dangerous       bool     `json:"dangerous"`
	NetworkRequired bool     `json:"network_required"`
}

// Record is a persisted plan. Once a run references it the plan_json is
// immutable; a plan may outlive the run that referenced it.
type Record struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	IntentText string    `json:"intent_text"`
	Plan       Plan      `json:"plan_json"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to synthesize a plan.
type CreateRequest struct {
	IntentText string `json:"intent_text"`
}

// Validate checks a Plan against the schema invariants.
func (p *Plan) Validate() error {
	if p.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported plan version %q", domain.ErrValidation, p.Version)
	}
	switch p.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: unknown risk_level %q", domain.ErrValidation, p.RiskLevel)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", domain.ErrValidation)
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("%w: step %d missing id", domain.ErrValidation, i+1)
		}
		if s.Type == "" {
			return fmt.Errorf("%w: step %q missing type", domain.ErrValidation, s.ID)
		}
		if len(s.Commands) == 0 {
			return fmt.Errorf("%w: step %q has no commands", domain.ErrValidation, s.ID)
		}
	}
	return nil
}

// CommandCount returns the number of run steps this plan materializes into.
func (p *Plan) CommandCount() int {
	n := 0
	for i := range p.Steps {
		n += len(p.Steps[i].Commands)
	}
	return n
}
