// Package recipe defines the declarative recipe model: a named, versioned
// workflow of agent, bash, and sub-recipe steps, either as a flat step list
// or grouped into stages with approval gates.
package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StepType identifies what kind of work a step performs.
type StepType string

const (
	// StepAgent spawns an LLM agent with a prompt.
	StepAgent StepType = "agent"
	// StepRecipe executes a sub-recipe.
	StepRecipe StepType = "recipe"
	// StepBash executes a shell command directly.
	StepBash StepType = "bash"
)

// OnError policies for step failure handling.
const (
	OnErrorFail          = "fail"
	OnErrorContinue      = "continue"
	OnErrorSkipRemaining = "skip_remaining"
)

// Defaults applied during parsing.
const (
	DefaultTimeoutSeconds = 600
	DefaultMaxIterations  = 100
)

// RecursionConfig bounds recipe composition depth and total agent steps.
type RecursionConfig struct {
	MaxDepth      int `yaml:"max_depth"`       // default 5, configurable 1-20
	MaxTotalSteps int `yaml:"max_total_steps"` // default 100, configurable 1-1000
}

// DefaultRecursionConfig returns the recursion limits applied when a recipe
// declares none.
func DefaultRecursionConfig() RecursionConfig {
	return RecursionConfig{MaxDepth: 5, MaxTotalSteps: 100}
}

// UnmarshalYAML applies defaults before decoding.
func (c *RecursionConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw RecursionConfig
	out := raw(DefaultRecursionConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = RecursionConfig(out)
	return nil
}

// BackoffConfig controls adaptive slowdown after rate-limit errors.
type BackoffConfig struct {
	Enabled           bool    `yaml:"enabled"`
	InitialDelayMS    int     `yaml:"initial_delay_ms"`
	MaxDelayMS        int     `yaml:"max_delay_ms"`
	Multiplier        float64 `yaml:"multiplier"`
	ResetAfterSuccess int     `yaml:"reset_after_success"`
}

// DefaultBackoffConfig returns the backoff applied when rate limiting is
// configured without an explicit backoff block.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Enabled:           true,
		InitialDelayMS:    1000,
		MaxDelayMS:        60000,
		Multiplier:        2.0,
		ResetAfterSuccess: 3,
	}
}

// UnmarshalYAML applies defaults before decoding.
func (c *BackoffConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw BackoffConfig
	out := raw(DefaultBackoffConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = BackoffConfig(out)
	return nil
}

// RateLimitConfig controls concurrency and pacing of agent calls across the
// entire recipe tree. Sub-recipes inherit the parent's limits and cannot
// override them.
type RateLimitConfig struct {
	MaxConcurrentLLM int           `yaml:"max_concurrent_llm"` // 0 = unlimited
	MinDelayMS       int           `yaml:"min_delay_ms"`       // minimum gap between call completions
	Backoff          BackoffConfig `yaml:"backoff"`
}

// UnmarshalYAML applies defaults before decoding.
func (c *RateLimitConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw RateLimitConfig
	out := raw{Backoff: DefaultBackoffConfig()}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = RateLimitConfig(out)
	return nil
}

// OrchestratorConfig is passed through to spawned agent sessions to pace
// API calls inside each agent's own loop.
type OrchestratorConfig struct {
	Config map[string]any `yaml:"config"`
}

// ApprovalConfig describes the approval gate attached to a stage.
type ApprovalConfig struct {
	Required bool   `yaml:"required"`
	Prompt   string `yaml:"prompt"`
	Timeout  int    `yaml:"timeout"` // seconds to wait; 0 = wait forever
	Default  string `yaml:"default"` // "deny" or "approve" on timeout
}

// UnmarshalYAML applies defaults before decoding.
func (c *ApprovalConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw ApprovalConfig
	out := raw{Default: "deny"}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = ApprovalConfig(out)
	return nil
}

// RetryConfig controls retries for agent steps.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	InitialDelay float64 `yaml:"initial_delay"` // seconds
	MaxDelay     float64 `yaml:"max_delay"`     // seconds
	Backoff      string  `yaml:"backoff"`       // "exponential" or "linear"
}

// DefaultRetryConfig returns the retry policy applied when a step declares
// retry without explicit values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  1,
		InitialDelay: 5,
		MaxDelay:     300,
		Backoff:      "exponential",
	}
}

// UnmarshalYAML applies defaults before decoding.
func (c *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw RetryConfig
	out := raw(DefaultRetryConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = RetryConfig(out)
	return nil
}

// Parallelism is the decoded form of the `parallel` field, which accepts
// false (sequential), true (unbounded), or a positive integer (bounded).
type Parallelism struct {
	Enabled bool
	Limit   int // 0 = unbounded
}

// UnmarshalYAML accepts a bool or an int.
func (p *Parallelism) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if err := value.Decode(&b); err == nil {
		p.Enabled = b
		p.Limit = 0
		return nil
	}
	var n int
	if err := value.Decode(&n); err == nil {
		p.Enabled = n != 0
		p.Limit = n
		return nil
	}
	return fmt.Errorf("parallel must be true, false, or a positive integer")
}

// Step is a single unit of work in a recipe.
type Step struct {
	ID   string   `yaml:"id"`
	Type StepType `yaml:"type"`

	// Agent step fields (type "agent")
	Agent       string         `yaml:"agent,omitempty"`
	Prompt      string         `yaml:"prompt,omitempty"`
	Mode        string         `yaml:"mode,omitempty"`
	AgentConfig map[string]any `yaml:"agent_config,omitempty"`

	// Sub-recipe fields (type "recipe")
	Recipe    string           `yaml:"recipe,omitempty"`
	Context   map[string]any   `yaml:"context,omitempty"` // sub-recipe context, templates allowed
	Recursion *RecursionConfig `yaml:"recursion,omitempty"`

	// Bash step fields (type "bash")
	Command        string            `yaml:"command,omitempty"`
	Cwd            string            `yaml:"cwd,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	OutputExitCode string            `yaml:"output_exit_code,omitempty"`

	// Common fields
	Output        string       `yaml:"output,omitempty"`
	Condition     string       `yaml:"condition,omitempty"`
	Foreach       string       `yaml:"foreach,omitempty"`
	LoopVar       string       `yaml:"as,omitempty"`
	Collect       string       `yaml:"collect,omitempty"`
	Parallel      Parallelism  `yaml:"parallel,omitempty"`
	MaxIterations int          `yaml:"max_iterations"`
	Timeout       int          `yaml:"timeout"` // seconds
	Retry         *RetryConfig `yaml:"retry,omitempty"`
	OnError       string       `yaml:"on_error"`
	DependsOn     []string     `yaml:"depends_on,omitempty"`
	ParseJSON     bool         `yaml:"parse_json"`
}

// UnmarshalYAML applies step defaults before decoding.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type raw Step
	out := raw{
		Type:          StepAgent,
		MaxIterations: DefaultMaxIterations,
		Timeout:       DefaultTimeoutSeconds,
		OnError:       OnErrorFail,
	}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*s = Step(out)
	return nil
}

// Stage is a named sub-sequence of steps with an optional approval gate.
type Stage struct {
	Name     string          `yaml:"name"`
	Steps    []Step          `yaml:"steps"`
	Approval *ApprovalConfig `yaml:"approval,omitempty"`
}

// Recipe is a complete workflow definition. Exactly one of Steps (flat
// mode) or Stages (staged mode with approval gates) is populated.
type Recipe struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`

	Steps  []Step  `yaml:"steps,omitempty"`
	Stages []Stage `yaml:"stages,omitempty"`

	Author  string   `yaml:"author,omitempty"`
	Created string   `yaml:"created,omitempty"`
	Updated string   `yaml:"updated,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`

	Context      map[string]any      `yaml:"context,omitempty"`
	Recursion    *RecursionConfig    `yaml:"recursion,omitempty"`
	RateLimiting *RateLimitConfig    `yaml:"rate_limiting,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
}

// IsStaged reports whether the recipe uses staged mode with approval gates.
func (r *Recipe) IsStaged() bool {
	return len(r.Stages) > 0
}

// AllSteps returns every step from either flat or staged mode.
func (r *Recipe) AllSteps() []Step {
	if !r.IsStaged() {
		return r.Steps
	}
	var all []Step
	for _, stage := range r.Stages {
		all = append(all, stage.Steps...)
	}
	return all
}

// StepByID returns the step with the given id, or nil.
func (r *Recipe) StepByID(id string) *Step {
	if !r.IsStaged() {
		for i := range r.Steps {
			if r.Steps[i].ID == id {
				return &r.Steps[i]
			}
		}
		return nil
	}
	for si := range r.Stages {
		for i := range r.Stages[si].Steps {
			if r.Stages[si].Steps[i].ID == id {
				return &r.Stages[si].Steps[i]
			}
		}
	}
	return nil
}

// StageByName returns the stage with the given name, or nil.
func (r *Recipe) StageByName(name string) *Stage {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// LastOutputKey returns the declared output name of the recipe's last step,
// used as the fallback final output of a completed run.
func (r *Recipe) LastOutputKey() string {
	if len(r.Steps) > 0 {
		return r.Steps[len(r.Steps)-1].Output
	}
	if len(r.Stages) > 0 {
		lastStage := r.Stages[len(r.Stages)-1]
		if len(lastStage.Steps) > 0 {
			return lastStage.Steps[len(lastStage.Steps)-1].Output
		}
	}
	return ""
}

// Parse decodes a recipe from YAML bytes.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing recipe: %w", err)
	}
	if len(r.Steps) > 0 && len(r.Stages) > 0 {
		return nil, fmt.Errorf("recipe cannot have both 'stages' and 'steps', use one or the other")
	}
	return &r, nil
}

// Load reads and decodes a recipe from a YAML file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("recipe file not found: %s", path)
		}
		return nil, fmt.Errorf("reading recipe %s: %w", path, err)
	}
	return Parse(data)
}
