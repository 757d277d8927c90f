package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no scenario fixtures found")

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestParseScenarioRejectsUnknownOp(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: bad
contract: holdout
assets:
  - label: moola
steps:
  - op: teleport
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
}

func TestParseScenarioRejectsUnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: bad
contract: holdout
assets:
  - label: moola
steps:
  - op: cancel
    partyy: alice
`))
	require.Error(t, err)
}

func TestParseScenarioRejectsDuplicateAsset(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: bad
contract: holdout
assets:
  - label: moola
  - label: moola
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
}

func TestParseScenarioRejectsUnknownAlgebra(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: bad
contract: holdout
assets:
  - label: moola
    algebra: ring
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown algebra")
}
