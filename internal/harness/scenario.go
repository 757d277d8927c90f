package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a contract, a set of asset
// kinds, and a scripted sequence of party actions with expected
// outcomes.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files are stored
	// under testdata/golden/{Name}.golden.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Contract names the registered contract to install ("atomicswap",
	// "holdout", ...).
	Contract string `yaml:"contract"`

	// Assets declares the asset kinds, in the order the instance and
	// every allocation matrix will use.
	Assets []AssetSpec `yaml:"assets"`

	// Steps is the scripted flow.
	Steps []Step `yaml:"steps"`
}

// AssetSpec declares one asset kind backed by a memory ledger.
type AssetSpec struct {
	Label string `yaml:"label"`

	// Algebra is "nat" (default) or "set".
	Algebra string `yaml:"algebra,omitempty"`
}

// Step is one scripted action. Op selects the verb; the other fields
// parameterize it. Expect names the error code the step must fail with;
// an empty Expect means the step must succeed.
type Step struct {
	// Op is one of: redeem, second_invite, new_invite, match,
	// reallocate, complete, cancel, advance_time, await_payout.
	Op string `yaml:"op"`

	// Party names the acting party. Seats, offers, payouts, and
	// cancelers are tracked per party.
	Party string `yaml:"party,omitempty"`

	// Invite names the invite to redeem: "first" for the instance
	// invite, or a name saved by an earlier step.
	Invite string `yaml:"invite,omitempty"`

	// SaveInvite stores a produced invite under this name.
	SaveInvite string `yaml:"save_invite,omitempty"`

	// Rules declares payout rules for redeem.
	Rules []RuleSpec `yaml:"rules,omitempty"`

	// Exit is the exit rule kind for redeem (default "waived").
	Exit string `yaml:"exit,omitempty"`

	// Deadline is the afterDeadline exit deadline.
	Deadline int64 `yaml:"deadline,omitempty"`

	// Offers names the parties whose offers the step targets
	// (reallocate, complete).
	Offers []string `yaml:"offers,omitempty"`

	// Allocations is the proposed per-offer allocation matrix for
	// reallocate, in Offers order over Assets order.
	Allocations [][]AmountSpec `yaml:"allocations,omitempty"`

	// Time is the logical time to advance to (advance_time).
	Time int64 `yaml:"time,omitempty"`

	// Expect is the error code the step must fail with, if any.
	Expect string `yaml:"expect,omitempty"`

	// Payout is the expected payout for await_payout, in Assets order.
	Payout []AmountSpec `yaml:"payout,omitempty"`
}

// RuleSpec declares one payout rule.
type RuleSpec struct {
	// Kind is one of the four rule kinds.
	Kind string `yaml:"kind"`

	// Asset is the asset-kind label.
	Asset string `yaml:"asset"`

	// Amount is the fungible amount (nat kinds).
	Amount uint64 `yaml:"amount,omitempty"`

	// Elements are the non-fungible element IDs (set kinds).
	Elements []string `yaml:"elements,omitempty"`
}

// AmountSpec names an amount of one asset kind.
type AmountSpec struct {
	Asset    string   `yaml:"asset"`
	Amount   uint64   `yaml:"amount,omitempty"`
	Elements []string `yaml:"elements,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so a
// typo in a fixture fails loudly instead of silently skipping a check.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("harness: parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate performs the static checks that do not need an engine.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("harness: scenario has no name")
	}
	if s.Contract == "" {
		return fmt.Errorf("harness: scenario %s names no contract", s.Name)
	}
	if len(s.Assets) == 0 {
		return fmt.Errorf("harness: scenario %s declares no assets", s.Name)
	}
	seen := map[string]bool{}
	for _, a := range s.Assets {
		if a.Label == "" {
			return fmt.Errorf("harness: scenario %s has an unlabeled asset", s.Name)
		}
		if seen[a.Label] {
			return fmt.Errorf("harness: scenario %s declares asset %q twice", s.Name, a.Label)
		}
		seen[a.Label] = true
		switch a.Algebra {
		case "", "nat", "set":
		default:
			return fmt.Errorf("harness: scenario %s: asset %q has unknown algebra %q",
				s.Name, a.Label, a.Algebra)
		}
	}
	for i, step := range s.Steps {
		if !knownOps[step.Op] {
			return fmt.Errorf("harness: scenario %s: step %d has unknown op %q", s.Name, i, step.Op)
		}
	}
	return nil
}

var knownOps = map[string]bool{
	"redeem":        true,
	"second_invite": true,
	"new_invite":    true,
	"match":         true,
	"reallocate":    true,
	"complete":      true,
	"cancel":        true,
	"advance_time":  true,
	"await_payout":  true,
}
