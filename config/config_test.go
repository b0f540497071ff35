package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow-run/orchestrator/config"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	c := config.Default()
	assert.Equal(t, 20, c.Planner.MaxSteps)
	assert.Equal(t, 0.33, c.MultiAgent.SingleMax)
	assert.Equal(t, 0.66, c.MultiAgent.ParallelMin)
	assert.Equal(t, 256, c.Progress.OutboxCapacity)
	assert.Equal(t, 2000, c.Progress.TerminalEnqueueTimeoutMS)
	assert.Equal(t, 60000, c.Progress.GracePeriodMS)
	assert.Equal(t, 15000, c.Transport.HeartbeatIntervalMS)
	assert.Equal(t, 30000, c.Transport.LivenessDeadlineMS)
	assert.Equal(t, 4000, c.Context.CharBudget)
}

func TestNew_AppliesOptionsOverDefaults(t *testing.T) {
	c := config.New(
		config.WithPlannerMaxSteps(5),
		config.WithMultiAgentThresholds(0.2, 0.8),
		config.WithToolKeywords([]string{"ping"}),
	)
	assert.Equal(t, 5, c.Planner.MaxSteps)
	assert.Equal(t, 0.2, c.MultiAgent.SingleMax)
	assert.Equal(t, 0.8, c.MultiAgent.ParallelMin)
	assert.Equal(t, []string{"ping"}, c.Classifier.ToolKeywords)
}

func TestLoad_PartialDocumentKeepsRemainingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	doc := "planner:\n  max_steps: 7\nmulti_agent:\n  single_max: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Planner.MaxSteps)
	assert.Equal(t, 0.1, c.MultiAgent.SingleMax)
	assert.Equal(t, 0.66, c.MultiAgent.ParallelMin) // untouched by the document
	assert.Equal(t, 256, c.Progress.OutboxCapacity) // untouched by the document
}

func TestLoad_OptionsOverrideTheDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planner:\n  max_steps: 7\n"), 0o644))

	c, err := config.Load(path, config.WithPlannerMaxSteps(99))
	require.NoError(t, err)
	assert.Equal(t, 99, c.Planner.MaxSteps)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationHelpers_ConvertMillisecondFields(t *testing.T) {
	c := config.Default()
	assert.Equal(t, 2000_000_000, int(c.TerminalEnqueueTimeout()))
	assert.Equal(t, 60_000_000_000, int(c.GracePeriod()))
	assert.Equal(t, 15_000_000_000, int(c.HeartbeatInterval()))
	assert.Equal(t, 30_000_000_000, int(c.LivenessDeadline()))
}
