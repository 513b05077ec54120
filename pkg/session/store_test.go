package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	souscheferrors "github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
)

func testRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name:    "code-review",
		Version: "1.0.0",
		Steps: []recipe.Step{
			{ID: "analyze", Type: recipe.StepAgent, Agent: "bug-hunter", Prompt: "find bugs"},
		},
	}
}

func TestStore_CreateAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sessionID, "recipe_"))
	assert.True(t, store.Exists(sessionID, project))

	state, err := store.Load(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, sessionID, state.SessionID)
	assert.Equal(t, "code-review", state.RecipeName)
	assert.Equal(t, "1.0.0", state.RecipeVersion)
	assert.Equal(t, 0, state.CurrentStepIndex)
	assert.Empty(t, state.CompletedSteps)
	assert.Equal(t, "in_progress", state.Status())
}

func TestStore_SaveRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	state, err := store.Load(sessionID, project)
	require.NoError(t, err)

	state.Context["analyze"] = map[string]any{"issues": []any{"off-by-one"}}
	state.CompletedSteps = append(state.CompletedSteps, "analyze")
	state.CurrentStepIndex = 1
	require.NoError(t, store.Save(sessionID, project, state))

	loaded, err := store.Load(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentStepIndex)
	assert.Equal(t, []string{"analyze"}, loaded.CompletedSteps)
	assert.Equal(t,
		map[string]any{"issues": []any{"off-by-one"}},
		loaded.Context["analyze"])
}

func TestStore_SaveProgressPreservesConcurrentFlags(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	// The engine holds a stale in-memory copy while a step runs.
	stale, err := store.Load(sessionID, project)
	require.NoError(t, err)

	// Meanwhile a cancellation and an approval decision land on disk.
	_, _, err = store.RequestCancellation(sessionID, project, false)
	require.NoError(t, err)
	require.NoError(t, store.SetPendingApproval(sessionID, project, &PendingApproval{
		StageName: "deploy",
		Prompt:    "Ship it?",
		Default:   "deny",
	}))

	stale.Context["analyze"] = "done"
	stale.CompletedSteps = append(stale.CompletedSteps, "analyze")
	stale.CurrentStepIndex = 1

	merged, err := store.SaveProgress(sessionID, project, stale)
	require.NoError(t, err)
	assert.Equal(t, CancellationRequested, merged.CancellationStatus)

	// Progress advanced; the concurrent flags survived.
	loaded, err := store.Load(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentStepIndex)
	assert.Equal(t, []string{"analyze"}, loaded.CompletedSteps)
	assert.Equal(t, "done", loaded.Context["analyze"])
	assert.Equal(t, CancellationRequested, loaded.CancellationStatus)
	require.NotNil(t, loaded.PendingApproval)
	assert.Equal(t, "deploy", loaded.PendingApproval.StageName)
}

func TestStore_LoadMissingSession(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("recipe_20260101_000000_dead", t.TempDir())
	require.Error(t, err)

	var nfe *souscheferrors.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "session", nfe.Resource)
}

func TestStore_RecipeSnapshot(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	recipePath := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(recipePath, []byte("name: code-review\n"), 0o644))

	sessionID, err := store.Create(testRecipe(), project, recipePath)
	require.NoError(t, err)

	snapshot, err := os.ReadFile(store.RecipePath(sessionID, project))
	require.NoError(t, err)
	assert.Equal(t, "name: code-review\n", string(snapshot))
}

func TestStore_List(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	first, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)
	second, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	summaries, err := store.List(project)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	ids := []string{summaries[0].SessionID, summaries[1].SessionID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(sessionID, project))
	assert.False(t, store.Exists(sessionID, project))
}

func TestApproval_Lifecycle(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	require.NoError(t, store.SetPendingApproval(sessionID, project, &PendingApproval{
		StageName: "deploy",
		Prompt:    "Ship to production?",
		Default:   "deny",
	}))

	state, err := store.Load(sessionID, project)
	require.NoError(t, err)
	require.NotNil(t, state.PendingApproval)
	assert.Equal(t, "deploy", state.PendingApproval.StageName)
	assert.NotEmpty(t, state.PendingApproval.RequestedAt)
	assert.Equal(t, "paused_for_approval", state.Status())

	require.NoError(t, store.SetStageApproval(sessionID, project, "deploy", ApprovalApproved, "looks good"))

	state, err = store.Load(sessionID, project)
	require.NoError(t, err)
	assert.Nil(t, state.PendingApproval)

	approval, err := store.StageApproval(sessionID, project, "deploy")
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, approval.Status)
	assert.Equal(t, "looks good", approval.Reason)
}

func TestApproval_ZeroTimeoutNeverExpires(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	require.NoError(t, store.SetPendingApproval(sessionID, project, &PendingApproval{
		StageName:   "deploy",
		Timeout:     0,
		Default:     "deny",
		RequestedAt: time.Now().Add(-48 * time.Hour).Format(time.RFC3339),
	}))

	status, err := store.CheckApprovalTimeout(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, status)
}

func TestApproval_TimeoutUsesDefault(t *testing.T) {
	tests := []struct {
		name        string
		defaultMode string
		want        ApprovalStatus
	}{
		{"deny default times out", "deny", ApprovalTimeout},
		{"approve default auto-approves", "approve", ApprovalApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(t.TempDir())
			project := t.TempDir()

			sessionID, err := store.Create(testRecipe(), project, "")
			require.NoError(t, err)

			require.NoError(t, store.SetPendingApproval(sessionID, project, &PendingApproval{
				StageName:   "deploy",
				Timeout:     60,
				Default:     tt.defaultMode,
				RequestedAt: time.Now().Add(-2 * time.Minute).Format(time.RFC3339),
			}))

			status, err := store.CheckApprovalTimeout(sessionID, project)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)

			// The decision is persisted and the pending marker cleared.
			state, err := store.Load(sessionID, project)
			require.NoError(t, err)
			assert.Nil(t, state.PendingApproval)
			assert.Equal(t, tt.want, state.StageApprovals["deploy"].Status)
		})
	}
}

func TestCancellation_Monotonic(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	status, err := store.CancellationStatus(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, CancellationNone, status)

	changed, _, err := store.RequestCancellation(sessionID, project, false)
	require.NoError(t, err)
	assert.True(t, changed)

	requested, err := store.IsCancellationRequested(sessionID, project)
	require.NoError(t, err)
	assert.True(t, requested)

	immediate, err := store.IsImmediateCancellation(sessionID, project)
	require.NoError(t, err)
	assert.False(t, immediate)

	// Second graceful request escalates to immediate.
	changed, msg, err := store.RequestCancellation(sessionID, project, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, msg, "immediate")

	immediate, err = store.IsImmediateCancellation(sessionID, project)
	require.NoError(t, err)
	assert.True(t, immediate)

	// Requests after immediate are no-ops.
	changed, _, err = store.RequestCancellation(sessionID, project, true)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCancellation_MarkAndClear(t *testing.T) {
	store := NewStore(t.TempDir())
	project := t.TempDir()

	sessionID, err := store.Create(testRecipe(), project, "")
	require.NoError(t, err)

	// Cannot clear before the session is cancelled.
	cleared, err := store.ClearCancellation(sessionID, project)
	require.NoError(t, err)
	assert.False(t, cleared)

	_, _, err = store.RequestCancellation(sessionID, project, true)
	require.NoError(t, err)
	require.NoError(t, store.MarkCancelled(sessionID, project, "analyze"))

	state, err := store.Load(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", state.Status())
	assert.Equal(t, "analyze", state.CancelledAtStep)
	assert.NotEmpty(t, state.CancelledAt)

	cleared, err = store.ClearCancellation(sessionID, project)
	require.NoError(t, err)
	assert.True(t, cleared)

	status, err := store.CancellationStatus(sessionID, project)
	require.NoError(t, err)
	assert.Equal(t, CancellationNone, status)
}
