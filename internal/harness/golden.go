package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tessera-io/tessera/internal/canon"
)

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	runner, err := NewRunner(scenario)
	if err != nil {
		return err
	}
	trace, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	events := make([]any, len(trace))
	for i, ev := range trace {
		events[i] = ev
	}
	snapshot := map[string]any{
		"scenario": scenario.Name,
		"trace":    events,
	}
	traceJSON, err := canon.Marshal(snapshot)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
