// Package config defines the orchestrator's recognized configuration
// options and their defaults. Values are loaded from YAML via
// gopkg.in/yaml.v3 and then adjusted with functional options, so a caller
// embedding this module can override a handful of fields without writing a
// config file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// PlannerConfig bounds the Planner's decomposition call.
	PlannerConfig struct {
		MaxSteps int `yaml:"max_steps"`
	}

	// ClassifierConfig overrides the step classifier's keyword set.
	ClassifierConfig struct {
		ToolKeywords []string `yaml:"tool_keywords"`
	}

	// MultiAgentConfig sets the complexity-score thresholds the Multi-Agent
	// Flow uses to pick a strategy.
	MultiAgentConfig struct {
		SingleMax   float64 `yaml:"single_max"`
		ParallelMin float64 `yaml:"parallel_min"`
	}

	// ProgressConfig tunes the Connection Manager's per-subscriber outbox
	// and the Progress Broadcaster's terminal-state retention.
	ProgressConfig struct {
		OutboxCapacity          int `yaml:"outbox_capacity"`
		TerminalEnqueueTimeoutMS int `yaml:"terminal_enqueue_timeout_ms"`
		GracePeriodMS           int `yaml:"grace_period_ms"`
	}

	// TransportConfig tunes the WebSocket push transport's heartbeat and
	// liveness expectations.
	TransportConfig struct {
		HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
		LivenessDeadlineMS  int `yaml:"liveness_deadline_ms"`
	}

	// LLMConfig bounds a single LLM call issued by the Planner, Generic
	// Executor, or Tool Executor's resolution step.
	LLMConfig struct {
		CallTimeoutMS int `yaml:"call_timeout_ms"`
	}

	// ToolConfig bounds a single tool invocation issued by the Tool
	// Executor.
	ToolConfig struct {
		CallTimeoutMS int `yaml:"call_timeout_ms"`
	}

	// ContextConfig bounds the Rolling Context's accumulated character
	// budget.
	ContextConfig struct {
		CharBudget int `yaml:"char_budget"`
	}

	// Config is the orchestrator's full recognized configuration. Every
	// field has a documented default (see Default) so a zero-value
	// sub-struct in a partial YAML document still produces a running
	// system.
	Config struct {
		Planner    PlannerConfig    `yaml:"planner"`
		Classifier ClassifierConfig `yaml:"classifier"`
		MultiAgent MultiAgentConfig `yaml:"multi_agent"`
		Progress   ProgressConfig   `yaml:"progress"`
		Transport  TransportConfig  `yaml:"transport"`
		LLM        LLMConfig        `yaml:"llm"`
		Tool       ToolConfig       `yaml:"tool"`
		Context    ContextConfig    `yaml:"context"`
	}
)

// Default returns a Config with every recognized option set to the value
// documented in the external interfaces list.
func Default() Config {
	return Config{
		Planner:    PlannerConfig{MaxSteps: 20},
		Classifier: ClassifierConfig{},
		MultiAgent: MultiAgentConfig{SingleMax: 0.33, ParallelMin: 0.66},
		Progress: ProgressConfig{
			OutboxCapacity:           256,
			TerminalEnqueueTimeoutMS: 2000,
			GracePeriodMS:            60000,
		},
		Transport: TransportConfig{
			HeartbeatIntervalMS: 15000,
			LivenessDeadlineMS:  30000,
		},
		LLM:     LLMConfig{CallTimeoutMS: 60000},
		Tool:    ToolConfig{CallTimeoutMS: 120000},
		Context: ContextConfig{CharBudget: 4000},
	}
}

// Option adjusts a Config after defaults and any YAML document have been
// applied, matching the teacher's Option func(*Executor) pattern used
// throughout runtime/toolregistry/executor.
type Option func(*Config)

// WithPlannerMaxSteps overrides planner.max_steps.
func WithPlannerMaxSteps(n int) Option {
	return func(c *Config) { c.Planner.MaxSteps = n }
}

// WithToolKeywords overrides classifier.tool_keywords.
func WithToolKeywords(keywords []string) Option {
	return func(c *Config) { c.Classifier.ToolKeywords = keywords }
}

// WithMultiAgentThresholds overrides multi_agent.single_max and
// multi_agent.parallel_min.
func WithMultiAgentThresholds(singleMax, parallelMin float64) Option {
	return func(c *Config) { c.MultiAgent.SingleMax = singleMax; c.MultiAgent.ParallelMin = parallelMin }
}

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Load reads a YAML document from path and merges it onto Default,
// followed by opts. A document that only sets a handful of fields leaves
// the rest at their documented defaults, since yaml.Unmarshal only
// overwrites fields present in the document.
func Load(path string, opts ...Option) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c, nil
}

// TerminalEnqueueTimeout returns progress.terminal_enqueue_timeout_ms as a
// time.Duration.
func (c Config) TerminalEnqueueTimeout() time.Duration {
	return time.Duration(c.Progress.TerminalEnqueueTimeoutMS) * time.Millisecond
}

// GracePeriod returns progress.grace_period_ms as a time.Duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Progress.GracePeriodMS) * time.Millisecond
}

// HeartbeatInterval returns transport.heartbeat_interval_ms as a
// time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Transport.HeartbeatIntervalMS) * time.Millisecond
}

// LivenessDeadline returns transport.liveness_deadline_ms as a
// time.Duration.
func (c Config) LivenessDeadline() time.Duration {
	return time.Duration(c.Transport.LivenessDeadlineMS) * time.Millisecond
}

// LLMCallTimeout returns llm.call_timeout_ms as a time.Duration.
func (c Config) LLMCallTimeout() time.Duration {
	return time.Duration(c.LLM.CallTimeoutMS) * time.Millisecond
}

// ToolCallTimeout returns tool.call_timeout_ms as a time.Duration.
func (c Config) ToolCallTimeout() time.Duration {
	return time.Duration(c.Tool.CallTimeoutMS) * time.Millisecond
}
