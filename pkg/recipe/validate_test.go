package recipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlatRecipe() *Recipe {
	return &Recipe{
		Name:        "valid-recipe",
		Description: "a valid recipe",
		Version:     "1.0.0",
		Steps: []Step{
			{ID: "s1", Type: StepAgent, Agent: "a", Prompt: "p", Timeout: 600, MaxIterations: 100, OnError: OnErrorFail},
			{ID: "s2", Type: StepBash, Command: "echo hi", Timeout: 600, MaxIterations: 100, OnError: OnErrorFail},
		},
	}
}

func TestValidate_ValidRecipe(t *testing.T) {
	assert.Empty(t, validFlatRecipe().Validate())
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	r := &Recipe{}
	errs := r.Validate()

	assert.Contains(t, errs, "recipe missing required field: name")
	assert.Contains(t, errs, "recipe missing required field: description")
	assert.Contains(t, errs, "recipe missing required field: version")
	assert.Contains(t, errs, "recipe must have at least one step or stage")
}

func TestValidate_Version(t *testing.T) {
	tests := []struct {
		version string
		wantErr string
	}{
		{"1.0.0", ""},
		{"10.20.30", ""},
		{"v1.0.0", "without 'v' prefix"},
		{"1.0.0-beta", "no pre-release"},
		{"1.0", "MAJOR.MINOR.PATCH"},
		{"1.a.0", "must be numeric"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			r := validFlatRecipe()
			r.Version = tt.version
			errs := r.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			assert.Contains(t, strings.Join(errs, "\n"), tt.wantErr)
		})
	}
}

func TestValidate_StepKindConstraints(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name:    "agent missing prompt",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Timeout: 600, OnError: OnErrorFail},
			wantErr: "agent steps require 'prompt' field",
		},
		{
			name:    "agent with command",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Prompt: "p", Command: "ls", Timeout: 600, OnError: OnErrorFail},
			wantErr: "agent steps cannot have 'command' field",
		},
		{
			name:    "recipe missing path",
			step:    Step{ID: "s", Type: StepRecipe, Timeout: 600, OnError: OnErrorFail},
			wantErr: "recipe steps require 'recipe' field",
		},
		{
			name:    "recipe with agent field",
			step:    Step{ID: "s", Type: StepRecipe, Recipe: "r.yaml", Agent: "a", Timeout: 600, OnError: OnErrorFail},
			wantErr: "recipe steps cannot have 'agent' field",
		},
		{
			name:    "bash missing command",
			step:    Step{ID: "s", Type: StepBash, Timeout: 600, OnError: OnErrorFail},
			wantErr: "bash steps require 'command' field",
		},
		{
			name:    "bash whitespace command",
			step:    Step{ID: "s", Type: StepBash, Command: "   ", Timeout: 600, OnError: OnErrorFail},
			wantErr: "bash command cannot be empty or whitespace",
		},
		{
			name:    "bash with recursion",
			step:    Step{ID: "s", Type: StepBash, Command: "ls", Recursion: &RecursionConfig{MaxDepth: 5, MaxTotalSteps: 100}, Timeout: 600, OnError: OnErrorFail},
			wantErr: "bash steps cannot have 'recursion' field",
		},
		{
			name:    "unknown type",
			step:    Step{ID: "s", Type: "docker", Timeout: 600, OnError: OnErrorFail},
			wantErr: "type must be 'agent', 'recipe', or 'bash'",
		},
		{
			name:    "reserved output name",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Prompt: "p", Output: "session", Timeout: 600, OnError: OnErrorFail},
			wantErr: "output name 'session' is reserved",
		},
		{
			name:    "bad on_error",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Prompt: "p", Timeout: 600, OnError: "retry"},
			wantErr: "on_error must be 'fail', 'continue', or 'skip_remaining'",
		},
		{
			name:    "zero timeout",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Prompt: "p", OnError: OnErrorFail},
			wantErr: "timeout must be positive",
		},
		{
			name:    "parallel without foreach",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Prompt: "p", Parallel: Parallelism{Enabled: true}, Timeout: 600, OnError: OnErrorFail},
			wantErr: "parallel requires foreach",
		},
		{
			name:    "foreach without reference",
			step:    Step{ID: "s", Type: StepAgent, Agent: "a", Prompt: "p", Foreach: "items", MaxIterations: 100, Timeout: 600, OnError: OnErrorFail},
			wantErr: "foreach must contain a variable reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.step.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, strings.Join(errs, "\n"), tt.wantErr)
		})
	}
}

func TestValidate_DuplicateStepIDs(t *testing.T) {
	r := validFlatRecipe()
	r.Steps[1] = r.Steps[0]

	errs := r.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, strings.Join(errs, "\n"), "duplicate step IDs: s1")
}

func TestValidate_DependsOn(t *testing.T) {
	r := validFlatRecipe()
	r.Steps[0].DependsOn = []string{"missing", "s1"}

	joined := strings.Join(r.Validate(), "\n")
	assert.Contains(t, joined, "depends_on references unknown step 'missing'")
	assert.Contains(t, joined, "cannot depend on itself")
}

func TestValidate_Staged(t *testing.T) {
	r := &Recipe{
		Name:        "staged",
		Description: "d",
		Version:     "1.0.0",
		Stages: []Stage{
			{
				Name: "plan",
				Steps: []Step{
					{ID: "s1", Type: StepAgent, Agent: "a", Prompt: "p", Timeout: 600, OnError: OnErrorFail},
				},
				Approval: &ApprovalConfig{Required: true, Prompt: "ok?", Default: "deny"},
			},
			{
				Name: "plan",
				Steps: []Step{
					{ID: "s1", Type: StepAgent, Agent: "a", Prompt: "p", Timeout: 600, OnError: OnErrorFail},
				},
			},
		},
	}

	joined := strings.Join(r.Validate(), "\n")
	assert.Contains(t, joined, "duplicate stage names: plan")
	assert.Contains(t, joined, "duplicate step IDs across stages: s1")
}

func TestValidate_StagedReservesStageOutput(t *testing.T) {
	r := &Recipe{
		Name:        "staged",
		Description: "d",
		Version:     "1.0.0",
		Stages: []Stage{
			{
				Name: "plan",
				Steps: []Step{
					{ID: "s1", Type: StepAgent, Agent: "a", Prompt: "p", Output: "stage", Timeout: 600, OnError: OnErrorFail},
				},
			},
		},
	}

	joined := strings.Join(r.Validate(), "\n")
	assert.Contains(t, joined, "output name 'stage' is reserved")
}

func TestValidate_ApprovalConfig(t *testing.T) {
	c := &ApprovalConfig{Required: true, Default: "maybe", Timeout: -1}
	joined := strings.Join(c.Validate(), "\n")

	assert.Contains(t, joined, "approval.timeout must be non-negative")
	assert.Contains(t, joined, "approval.default must be 'deny' or 'approve'")
	assert.Contains(t, joined, "approval.prompt is required when approval.required is true")
}

func TestValidate_RecursionBounds(t *testing.T) {
	c := &RecursionConfig{MaxDepth: 0, MaxTotalSteps: 2000}
	joined := strings.Join(c.Validate(), "\n")

	assert.Contains(t, joined, "recursion.max_depth must be 1-20")
	assert.Contains(t, joined, "recursion.max_total_steps must be 1-1000")
}

func TestValidate_RateLimitBounds(t *testing.T) {
	c := &RateLimitConfig{MaxConcurrentLLM: 500, MinDelayMS: 70000, Backoff: DefaultBackoffConfig()}
	joined := strings.Join(c.Validate(), "\n")

	assert.Contains(t, joined, "unusually high")
	assert.Contains(t, joined, "min_delay_ms unusually high")
}

func TestValidate_BackoffBounds(t *testing.T) {
	c := &BackoffConfig{Enabled: true, InitialDelayMS: 50, MaxDelayMS: 10, Multiplier: 0.5, ResetAfterSuccess: 0}
	joined := strings.Join(c.Validate(), "\n")

	assert.Contains(t, joined, "initial_delay_ms must be >= 100")
	assert.Contains(t, joined, "max_delay_ms must be >= initial_delay_ms")
	assert.Contains(t, joined, "multiplier must be >= 1.0")
	assert.Contains(t, joined, "reset_after_success must be >= 1")
}
