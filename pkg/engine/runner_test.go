package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/souschef/pkg/session"
)

func newTestRunner(t *testing.T, spawner Spawner) (*Runner, *session.Store, string) {
	t.Helper()
	exec, store, project := newTestExecutor(t, spawner)
	return NewRunner(exec, store, project), store, project
}

func TestRunner_ExecuteSuccessPayload(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "done"}, nil
	}}
	runner, _, _ := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, `
name: simple
description: test
version: 1.0.0
steps:
  - id: only
    agent: worker
    prompt: "go"
    output: out
`), nil)
	require.NoError(t, err)

	assert.Equal(t, "success", outcome.Status)
	assert.NotEmpty(t, outcome.SessionID)
	assert.Equal(t, "done", outcome.Summary["final_output"])
}

func TestRunner_PausedPayloadAndApprovalFlow(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "ok"}, nil
	}}
	runner, _, _ := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, gatedRecipe), nil)
	require.NoError(t, err)
	assert.Equal(t, "paused", outcome.Status)
	assert.Equal(t, "analysis", outcome.StageName)
	assert.Equal(t, "Proceed with the fix?", outcome.Prompt)

	// The gate shows up in the approvals listing.
	pending, err := runner.Approvals()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, outcome.SessionID, pending[0].SessionID)
	assert.Equal(t, "analysis", pending[0].Approval.StageName)

	// Approve and resume to completion.
	approved, err := runner.Approve(outcome.SessionID, "analysis")
	require.NoError(t, err)
	assert.Equal(t, "success", approved.Status)

	resumed, err := runner.Resume(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "success", resumed.Status)
}

func TestRunner_DenyBlocksResume(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "ok"}, nil
	}}
	runner, _, _ := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, gatedRecipe), nil)
	require.NoError(t, err)
	require.Equal(t, "paused", outcome.Status)

	denied, err := runner.Deny(outcome.SessionID, "analysis", "not today")
	require.NoError(t, err)
	assert.Equal(t, "success", denied.Status)

	_, err = runner.Resume(context.Background(), outcome.SessionID)
	require.Error(t, err)

	var deniedErr *ApprovalDeniedError
	require.ErrorAs(t, err, &deniedErr)
	assert.Equal(t, "not today", deniedErr.Reason)
}

func TestRunner_ApproveWrongStage(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "ok"}, nil
	}}
	runner, _, _ := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, gatedRecipe), nil)
	require.NoError(t, err)

	_, err = runner.Approve(outcome.SessionID, "fix")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paused at stage 'analysis'")
}

func TestRunner_ApproveWithoutPendingGate(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "ok"}, nil
	}}
	runner, _, _ := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, `
name: flat
description: test
version: 1.0.0
steps:
  - id: only
    agent: worker
    prompt: "go"
`), nil)
	require.NoError(t, err)

	_, err = runner.Approve(outcome.SessionID, "anything")
	require.Error(t, err)
}

func TestRunner_ValidateReportsProblems(t *testing.T) {
	runner, _, _ := newTestRunner(t, &mockSpawner{})

	rec, problems, err := runner.Validate(writeRecipe(t, `
name: broken
description: test
version: not-semver
steps:
  - id: only
    agent: worker
    prompt: "go"
`))
	require.NoError(t, err)
	assert.Equal(t, "broken", rec.Name)
	assert.NotEmpty(t, problems)
}

func TestRunner_CancelOutcome(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "ok"}, nil
	}}
	runner, store, project := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, gatedRecipe), nil)
	require.NoError(t, err)

	cancelled, err := runner.Cancel(outcome.SessionID, false)
	require.NoError(t, err)
	assert.Equal(t, "success", cancelled.Status)

	status, err := store.CancellationStatus(outcome.SessionID, project)
	require.NoError(t, err)
	assert.Equal(t, session.CancellationRequested, status)

	// A repeat request reports the escalation.
	again, err := runner.Cancel(outcome.SessionID, false)
	require.NoError(t, err)
	assert.Contains(t, again.Message, "immediate")
}

func TestRunner_ListShowsSessions(t *testing.T) {
	spawner := &mockSpawner{respond: func(req SpawnRequest) (any, error) {
		return map[string]any{"output": "ok"}, nil
	}}
	runner, _, _ := newTestRunner(t, spawner)

	outcome, err := runner.Execute(context.Background(), writeRecipe(t, gatedRecipe), nil)
	require.NoError(t, err)

	summaries, err := runner.List()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, outcome.SessionID, summaries[0].SessionID)
	assert.Equal(t, "gated", summaries[0].RecipeName)
	assert.Equal(t, "paused_for_approval", summaries[0].Status)
}
