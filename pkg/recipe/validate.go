package recipe

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved output names. The engine injects these keys into the context
// during execution; steps may not overwrite them.
var reservedOutputNames = map[string]bool{
	"recipe":  true,
	"session": true,
	"step":    true,
}

// Validate checks the recipe against its structural rules and returns every
// violation found. An empty slice means the recipe is valid.
func (r *Recipe) Validate() []string {
	var errs []string

	if r.Name == "" {
		errs = append(errs, "recipe missing required field: name")
	}
	if r.Description == "" {
		errs = append(errs, "recipe missing required field: description")
	}
	if r.Version == "" {
		errs = append(errs, "recipe missing required field: version")
	}

	if r.Name != "" && !isName(r.Name) {
		errs = append(errs, "recipe name must be alphanumeric with hyphens/underscores")
	}

	if r.Version != "" {
		errs = append(errs, validateVersion(r.Version)...)
	}

	if len(r.Steps) == 0 && len(r.Stages) == 0 {
		errs = append(errs, "recipe must have at least one step or stage")
	}

	if r.IsStaged() {
		errs = append(errs, r.validateStaged()...)
	} else {
		errs = append(errs, r.validateFlat()...)
	}

	if r.Recursion != nil {
		errs = append(errs, r.Recursion.Validate()...)
	}
	if r.RateLimiting != nil {
		errs = append(errs, r.RateLimiting.Validate()...)
	}
	if r.Orchestrator != nil {
		errs = append(errs, r.Orchestrator.Validate()...)
	}

	return errs
}

func validateVersion(version string) []string {
	if strings.HasPrefix(version, "v") {
		return []string{"recipe version must follow semver format without 'v' prefix (use '1.0.0' not 'v1.0.0')"}
	}
	if strings.ContainsAny(version, "-+") {
		return []string{"recipe version must follow simple semver format (MAJOR.MINOR.PATCH only, no pre-release tags)"}
	}
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return []string{"recipe version must follow semver format (MAJOR.MINOR.PATCH)"}
	}
	for _, part := range parts {
		if part == "" || !isDigits(part) {
			return []string{"recipe version parts must be numeric (e.g., '1.0.0' not '1.a.0')"}
		}
	}
	return nil
}

func (r *Recipe) validateFlat() []string {
	var errs []string

	for i := range r.Steps {
		errs = append(errs, r.Steps[i].Validate()...)
	}

	if dups := duplicates(stepIDs(r.Steps)); len(dups) > 0 {
		errs = append(errs, fmt.Sprintf("duplicate step IDs: %s", strings.Join(dups, ", ")))
	}

	known := make(map[string]bool)
	for i := range r.Steps {
		known[r.Steps[i].ID] = true
	}
	for i := range r.Steps {
		step := &r.Steps[i]
		for _, dep := range step.DependsOn {
			if !known[dep] {
				errs = append(errs, fmt.Sprintf("step '%s': depends_on references unknown step '%s'", step.ID, dep))
			}
			if dep == step.ID {
				errs = append(errs, fmt.Sprintf("step '%s': cannot depend on itself", step.ID))
			}
		}
	}

	return errs
}

func (r *Recipe) validateStaged() []string {
	var errs []string

	var stageNames []string
	for i := range r.Stages {
		stageNames = append(stageNames, r.Stages[i].Name)
	}
	if dups := duplicates(stageNames); len(dups) > 0 {
		errs = append(errs, fmt.Sprintf("duplicate stage names: %s", strings.Join(dups, ", ")))
	}

	for i := range r.Stages {
		errs = append(errs, r.Stages[i].Validate()...)
	}

	var allIDs []string
	known := make(map[string]bool)
	for si := range r.Stages {
		for i := range r.Stages[si].Steps {
			allIDs = append(allIDs, r.Stages[si].Steps[i].ID)
			known[r.Stages[si].Steps[i].ID] = true
		}
	}
	if dups := duplicates(allIDs); len(dups) > 0 {
		errs = append(errs, fmt.Sprintf("duplicate step IDs across stages: %s", strings.Join(dups, ", ")))
	}

	for si := range r.Stages {
		stage := &r.Stages[si]
		for i := range stage.Steps {
			step := &stage.Steps[i]
			// The engine injects the stage record in staged mode.
			if step.Output == "stage" {
				errs = append(errs, fmt.Sprintf("stage '%s', step '%s': output name 'stage' is reserved", stage.Name, step.ID))
			}
			if step.OutputExitCode == "stage" {
				errs = append(errs, fmt.Sprintf("stage '%s', step '%s': output_exit_code 'stage' is reserved", stage.Name, step.ID))
			}
			for _, dep := range step.DependsOn {
				if !known[dep] {
					errs = append(errs, fmt.Sprintf(
						"stage '%s', step '%s': depends_on references unknown step '%s'",
						stage.Name, step.ID, dep))
				}
				if dep == step.ID {
					errs = append(errs, fmt.Sprintf("stage '%s', step '%s': cannot depend on itself", stage.Name, step.ID))
				}
			}
		}
	}

	return errs
}

// Validate checks stage structure and its steps.
func (s *Stage) Validate() []string {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "stage missing required field: name")
	} else if !isStageName(s.Name) {
		errs = append(errs, fmt.Sprintf("stage name must be alphanumeric with hyphens/underscores/spaces, got '%s'", s.Name))
	}

	if len(s.Steps) == 0 {
		errs = append(errs, fmt.Sprintf("stage '%s': must have at least one step", s.Name))
	}

	for i := range s.Steps {
		for _, err := range s.Steps[i].Validate() {
			errs = append(errs, fmt.Sprintf("stage '%s': %s", s.Name, err))
		}
	}

	if dups := duplicates(stepIDs(s.Steps)); len(dups) > 0 {
		errs = append(errs, fmt.Sprintf("stage '%s': duplicate step IDs: %s", s.Name, strings.Join(dups, ", ")))
	}

	if s.Approval != nil {
		for _, err := range s.Approval.Validate() {
			errs = append(errs, fmt.Sprintf("stage '%s': %s", s.Name, err))
		}
	}

	return errs
}

// Validate checks one step against the rules of its kind.
func (s *Step) Validate() []string {
	var errs []string

	if s.ID == "" {
		errs = append(errs, "step missing required field: id")
	}

	switch s.Type {
	case StepAgent:
		if s.Agent == "" {
			errs = append(errs, fmt.Sprintf("step '%s': agent steps require 'agent' field", s.ID))
		}
		if s.Prompt == "" {
			errs = append(errs, fmt.Sprintf("step '%s': agent steps require 'prompt' field", s.ID))
		}
		if s.Recipe != "" {
			errs = append(errs, fmt.Sprintf("step '%s': agent steps cannot have 'recipe' field", s.ID))
		}
		if len(s.Context) > 0 {
			errs = append(errs, fmt.Sprintf("step '%s': agent steps cannot have 'context' field", s.ID))
		}
		if s.Command != "" {
			errs = append(errs, fmt.Sprintf("step '%s': agent steps cannot have 'command' field", s.ID))
		}
	case StepRecipe:
		if s.Recipe == "" {
			errs = append(errs, fmt.Sprintf("step '%s': recipe steps require 'recipe' field", s.ID))
		}
		if s.Agent != "" {
			errs = append(errs, fmt.Sprintf("step '%s': recipe steps cannot have 'agent' field", s.ID))
		}
		if s.Prompt != "" {
			errs = append(errs, fmt.Sprintf("step '%s': recipe steps cannot have 'prompt' field", s.ID))
		}
		if s.Mode != "" {
			errs = append(errs, fmt.Sprintf("step '%s': recipe steps cannot have 'mode' field", s.ID))
		}
		if s.Command != "" {
			errs = append(errs, fmt.Sprintf("step '%s': recipe steps cannot have 'command' field", s.ID))
		}
		if s.Recursion != nil {
			errs = append(errs, s.Recursion.Validate()...)
		}
	case StepBash:
		if s.Command == "" {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps require 'command' field", s.ID))
		} else if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, fmt.Sprintf("step '%s': bash command cannot be empty or whitespace", s.ID))
		}
		if s.Agent != "" {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'agent' field", s.ID))
		}
		if s.Prompt != "" {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'prompt' field", s.ID))
		}
		if s.Mode != "" {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'mode' field", s.ID))
		}
		if len(s.AgentConfig) > 0 {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'agent_config' field", s.ID))
		}
		if s.Recipe != "" {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'recipe' field", s.ID))
		}
		if len(s.Context) > 0 {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'context' field", s.ID))
		}
		if s.Recursion != nil {
			errs = append(errs, fmt.Sprintf("step '%s': bash steps cannot have 'recursion' field", s.ID))
		}
		if s.OutputExitCode != "" {
			if !isIdent(s.OutputExitCode) {
				errs = append(errs, fmt.Sprintf("step '%s': output_exit_code must be alphanumeric with underscores", s.ID))
			}
			if reservedOutputNames[s.OutputExitCode] {
				errs = append(errs, fmt.Sprintf("step '%s': output_exit_code '%s' is reserved", s.ID, s.OutputExitCode))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("step '%s': type must be 'agent', 'recipe', or 'bash', got '%s'", s.ID, s.Type))
	}

	if s.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("step '%s': timeout must be positive", s.ID))
	}

	switch s.OnError {
	case OnErrorFail, OnErrorContinue, OnErrorSkipRemaining:
	default:
		errs = append(errs, fmt.Sprintf("step '%s': on_error must be 'fail', 'continue', or 'skip_remaining'", s.ID))
	}

	if s.Output != "" {
		if !isIdent(s.Output) {
			errs = append(errs, fmt.Sprintf("step '%s': output name must be alphanumeric with underscores", s.ID))
		}
		if reservedOutputNames[s.Output] {
			errs = append(errs, fmt.Sprintf("step '%s': output name '%s' is reserved", s.ID, s.Output))
		}
	}

	if s.Retry != nil {
		if s.Retry.MaxAttempts <= 0 {
			errs = append(errs, fmt.Sprintf("step '%s': retry.max_attempts must be positive integer", s.ID))
		}
		if s.Retry.Backoff != "exponential" && s.Retry.Backoff != "linear" {
			errs = append(errs, fmt.Sprintf("step '%s': retry.backoff must be 'exponential' or 'linear'", s.ID))
		}
	}

	if s.Foreach != "" {
		if !strings.Contains(s.Foreach, "{{") {
			errs = append(errs, fmt.Sprintf("step '%s': foreach must contain a variable reference (e.g., '{{items}}')", s.ID))
		}
		if s.LoopVar != "" && !isIdent(s.LoopVar) {
			errs = append(errs, fmt.Sprintf("step '%s': 'as' must be a valid variable name", s.ID))
		}
		if s.Collect != "" && !isIdent(s.Collect) {
			errs = append(errs, fmt.Sprintf("step '%s': 'collect' must be a valid variable name", s.ID))
		}
		if s.MaxIterations <= 0 {
			errs = append(errs, fmt.Sprintf("step '%s': max_iterations must be positive", s.ID))
		}
	}

	if s.Parallel.Enabled && s.Foreach == "" {
		errs = append(errs, fmt.Sprintf("step '%s': parallel requires foreach", s.ID))
	}
	if s.Parallel.Limit < 0 {
		errs = append(errs, fmt.Sprintf("step '%s': parallel must be true, false, or a positive integer, got %d", s.ID, s.Parallel.Limit))
	}

	return errs
}

// Validate checks recursion limits against their configurable ranges.
func (c *RecursionConfig) Validate() []string {
	var errs []string
	if c.MaxDepth < 1 || c.MaxDepth > 20 {
		errs = append(errs, fmt.Sprintf("recursion.max_depth must be 1-20, got %d", c.MaxDepth))
	}
	if c.MaxTotalSteps < 1 || c.MaxTotalSteps > 1000 {
		errs = append(errs, fmt.Sprintf("recursion.max_total_steps must be 1-1000, got %d", c.MaxTotalSteps))
	}
	return errs
}

// Validate checks backoff bounds.
func (c *BackoffConfig) Validate() []string {
	var errs []string
	if c.InitialDelayMS < 100 {
		errs = append(errs, fmt.Sprintf("backoff.initial_delay_ms must be >= 100, got %d", c.InitialDelayMS))
	}
	if c.MaxDelayMS < c.InitialDelayMS {
		errs = append(errs, fmt.Sprintf("backoff.max_delay_ms must be >= initial_delay_ms, got %d < %d", c.MaxDelayMS, c.InitialDelayMS))
	}
	if c.Multiplier < 1.0 {
		errs = append(errs, fmt.Sprintf("backoff.multiplier must be >= 1.0, got %g", c.Multiplier))
	}
	if c.ResetAfterSuccess < 1 {
		errs = append(errs, fmt.Sprintf("backoff.reset_after_success must be >= 1, got %d", c.ResetAfterSuccess))
	}
	return errs
}

// Validate checks rate limiting bounds.
func (c *RateLimitConfig) Validate() []string {
	var errs []string
	if c.MaxConcurrentLLM < 0 {
		errs = append(errs, fmt.Sprintf("rate_limiting.max_concurrent_llm must be >= 1, got %d", c.MaxConcurrentLLM))
	}
	if c.MaxConcurrentLLM > 100 {
		errs = append(errs, fmt.Sprintf("rate_limiting.max_concurrent_llm unusually high (%d), consider a lower value", c.MaxConcurrentLLM))
	}
	if c.MinDelayMS < 0 {
		errs = append(errs, fmt.Sprintf("rate_limiting.min_delay_ms must be >= 0, got %d", c.MinDelayMS))
	}
	if c.MinDelayMS > 60000 {
		errs = append(errs, fmt.Sprintf("rate_limiting.min_delay_ms unusually high (%dms), consider a lower value", c.MinDelayMS))
	}
	errs = append(errs, c.Backoff.Validate()...)
	return errs
}

// Validate checks orchestrator pass-through config.
func (c *OrchestratorConfig) Validate() []string {
	var errs []string
	if raw, ok := c.Config["min_delay_between_calls_ms"]; ok {
		valid := false
		switch v := raw.(type) {
		case int:
			valid = v >= 0
		case int64:
			valid = v >= 0
		case float64:
			valid = v >= 0 && v == float64(int64(v))
		}
		if !valid {
			errs = append(errs, fmt.Sprintf("orchestrator.config.min_delay_between_calls_ms must be non-negative int, got %v", raw))
		}
	}
	return errs
}

// Validate checks approval gate configuration.
func (c *ApprovalConfig) Validate() []string {
	var errs []string
	if c.Timeout < 0 {
		errs = append(errs, "approval.timeout must be non-negative")
	}
	if c.Default != "deny" && c.Default != "approve" {
		errs = append(errs, fmt.Sprintf("approval.default must be 'deny' or 'approve', got '%s'", c.Default))
	}
	if c.Required && c.Prompt == "" {
		errs = append(errs, "approval.prompt is required when approval.required is true")
	}
	return errs
}

func stepIDs(steps []Step) []string {
	ids := make([]string, len(steps))
	for i := range steps {
		ids[i] = steps[i].ID
	}
	return ids
}

func duplicates(values []string) []string {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	var dups []string
	for v, n := range counts {
		if n > 1 {
			dups = append(dups, v)
		}
	}
	sort.Strings(dups)
	return dups
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) && r != '_' {
			return false
		}
	}
	return true
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

func isStageName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) && r != '_' && r != '-' && r != ' ' {
			return false
		}
	}
	return true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
