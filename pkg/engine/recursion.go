package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tombee/souschef/pkg/recipe"
)

// stepCounter is the cumulative agent-step count shared across an entire
// recipe tree. Depth and per-branch limits live on RecursionState; the
// counter is shared so nested and parallel branches draw from one budget.
type stepCounter struct {
	mu    sync.Mutex
	count int
}

// RecursionState tracks recipe composition depth and the shared agent-step
// budget. Entering a sub-recipe derives a child state with depth+1; the
// counter pointer is shared, so the parent observes the child's consumption
// after return without explicit merging.
type RecursionState struct {
	Depth         int
	MaxDepth      int
	MaxTotalSteps int
	Stack         []string

	counter *stepCounter

	// prereserved marks a state whose agent steps were already counted via
	// ReserveSteps, so per-step increments become no-ops.
	prereserved bool
}

// NewRecursionState creates the root state for a top-level recipe.
func NewRecursionState(cfg recipe.RecursionConfig, recipeName string) *RecursionState {
	return &RecursionState{
		Depth:         1,
		MaxDepth:      cfg.MaxDepth,
		MaxTotalSteps: cfg.MaxTotalSteps,
		Stack:         []string{recipeName},
		counter:       &stepCounter{},
	}
}

// CheckDepth verifies that entering one more level of sub-recipe would stay
// within the depth limit. Called before entering the child.
func (r *RecursionState) CheckDepth(childName string) error {
	if r.Depth+1 > r.MaxDepth {
		stack := append(append([]string{}, r.Stack...), childName)
		return &RecursionError{
			Message: fmt.Sprintf("recipe recursion depth %d exceeds limit %d, stack: %s",
				r.Depth+1, r.MaxDepth, strings.Join(stack, " -> ")),
		}
	}
	return nil
}

// EnterRecipe derives the child state for a sub-recipe invocation. A per-step
// override may tighten or relax depth and step limits for the child branch,
// but the cumulative counter stays shared.
func (r *RecursionState) EnterRecipe(childName string, override *recipe.RecursionConfig) *RecursionState {
	child := &RecursionState{
		Depth:         r.Depth + 1,
		MaxDepth:      r.MaxDepth,
		MaxTotalSteps: r.MaxTotalSteps,
		Stack:         append(append([]string{}, r.Stack...), childName),
		counter:       r.counter,
	}
	if override != nil {
		child.MaxDepth = override.MaxDepth
		child.MaxTotalSteps = override.MaxTotalSteps
	}
	return child
}

// IncrementSteps counts one agent step against the shared budget. Bash and
// sub-recipe steps do not count.
func (r *RecursionState) IncrementSteps() error {
	if r.prereserved {
		return nil
	}
	r.counter.mu.Lock()
	defer r.counter.mu.Unlock()
	if r.counter.count+1 > r.MaxTotalSteps {
		return &RecursionError{
			Message: fmt.Sprintf("total agent steps %d exceeds limit %d across recipe tree",
				r.counter.count+1, r.MaxTotalSteps),
		}
	}
	r.counter.count++
	return nil
}

// ReserveSteps pre-reserves n agent-step slots in one atomic check-and-add.
// Parallel foreach uses this so a fan-out either fits entirely within the
// budget or fails before starting.
func (r *RecursionState) ReserveSteps(n int) error {
	r.counter.mu.Lock()
	defer r.counter.mu.Unlock()
	if r.counter.count+n > r.MaxTotalSteps {
		return &RecursionError{
			Message: fmt.Sprintf("parallel loop would exceed max_total_steps (%d + %d > %d)",
				r.counter.count, n, r.MaxTotalSteps),
		}
	}
	r.counter.count += n
	return nil
}

// WithPreReserved returns a view of this state whose per-step increments are
// disabled, for iterations whose budget was taken upfront via ReserveSteps.
func (r *RecursionState) WithPreReserved() *RecursionState {
	view := *r
	view.prereserved = true
	return &view
}

// TotalSteps returns the agent steps consumed so far across the tree.
func (r *RecursionState) TotalSteps() int {
	r.counter.mu.Lock()
	defer r.counter.mu.Unlock()
	return r.counter.count
}
