package lifecycle

import (
	"errors"
	"testing"

	"github.com/reeflow/reeflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingExecution() *models.Execution {
	return models.NewExecution("wf-1", "exec-1", "manual")
}

func runningExecution() *models.Execution {
	execution, err := ApplyExecution(pendingExecution(), Event{Type: ExecutionStarted})
	if err != nil {
		panic(err)
	}

	return execution
}

func TestApplyExecution_StartFromPending(t *testing.T) {
	execution, err := ApplyExecution(pendingExecution(), Event{Type: ExecutionStarted})
	require.NoError(t, err)

	assert.Equal(t, models.StateRunning, execution.State)
	assert.NotNil(t, execution.Timestamps.StartedAt)
	assert.Nil(t, execution.Timestamps.EndedAt)
}

func TestApplyExecution_StartFromRunningRejected(t *testing.T) {
	_, err := ApplyExecution(runningExecution(), Event{Type: ExecutionStarted})
	require.Error(t, err)

	var invalid *InvalidTransitionError

	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, ReasonTransitionNotAllowed, invalid.Reason)
}

func TestApplyExecution_CompletionEvents(t *testing.T) {
	testCases := []struct {
		name       string
		event      Event
		wantState  models.ExecutionState
		wantReason string
	}{
		{
			name:       "succeeded",
			event:      Event{Type: ExecutionSucceeded},
			wantState:  models.StateSuccess,
			wantReason: models.ReasonSuccess,
		},
		{
			name:       "failed",
			event:      Event{Type: ExecutionFailed, ReasonCode: "TASK_FAILED", Message: "task build failed"},
			wantState:  models.StateFailed,
			wantReason: "TASK_FAILED",
		},
		{
			name:       "cancelled",
			event:      Event{Type: ExecutionCancelled, ReasonCode: "USER_REQUEST"},
			wantState:  models.StateCancelled,
			wantReason: "USER_REQUEST",
		},
		{
			name:       "timed out",
			event:      Event{Type: ExecutionTimedOut},
			wantState:  models.StateFailed,
			wantReason: models.ReasonTimeout,
		},
		{
			name:       "cancellation requested",
			event:      Event{Type: CancellationRequested},
			wantState:  models.StateCancelled,
			wantReason: models.ReasonUserCancelled,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			execution, err := ApplyExecution(runningExecution(), tc.event)
			require.NoError(t, err)

			assert.Equal(t, tc.wantState, execution.State)
			assert.Equal(t, tc.wantReason, execution.ReasonCode)
			assert.NotNil(t, execution.Timestamps.EndedAt)
		})
	}
}

func TestApplyExecution_CompletionFromPendingRejected(t *testing.T) {
	for _, eventType := range []EventType{ExecutionSucceeded, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut} {
		t.Run(string(eventType), func(t *testing.T) {
			_, err := ApplyExecution(pendingExecution(), Event{Type: eventType})

			var invalid *InvalidTransitionError

			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, ReasonTransitionNotAllowed, invalid.Reason)
		})
	}
}

func TestApplyExecution_TerminalStatesAreImmutable(t *testing.T) {
	terminalEvents := []Event{
		{Type: ExecutionSucceeded},
		{Type: ExecutionFailed, ReasonCode: "X"},
		{Type: CancellationRequested},
	}

	allEvents := []EventType{
		ExecutionStarted, ExecutionSucceeded, ExecutionFailed,
		ExecutionCancelled, ExecutionTimedOut, CancellationRequested,
	}

	for _, terminal := range terminalEvents {
		execution, err := ApplyExecution(runningExecution(), terminal)
		require.NoError(t, err)
		require.True(t, execution.State.IsTerminal())

		for _, eventType := range allEvents {
			_, err := ApplyExecution(execution, Event{Type: eventType})
			require.Error(t, err)

			var invalid *InvalidTransitionError

			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, ReasonTerminalImmutable, invalid.Reason)
			assert.Equal(t, execution.State, invalid.CurrentState)
		}
	}
}

func TestApplyExecution_DoesNotMutateInput(t *testing.T) {
	original := pendingExecution()
	_, err := ApplyExecution(original, Event{Type: ExecutionStarted})
	require.NoError(t, err)

	assert.Equal(t, models.StatePending, original.State)
	assert.Nil(t, original.Timestamps.StartedAt)
}

func pendingTaskRun() *models.TaskRun {
	return models.NewTaskRun("exec-1", "build")
}

func TestApplyTaskRun_StartFromPendingAndWaiting(t *testing.T) {
	started, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskStarted})
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, started.State)
	assert.NotNil(t, started.Timestamps.StartedAt)

	waiting, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskWaiting, ReasonCode: "BACKOFF"})
	require.NoError(t, err)

	resumed, err := ApplyTaskRun(waiting, Event{Type: TaskStarted})
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, resumed.State)
}

func TestApplyTaskRun_StartFromRunningRejected(t *testing.T) {
	running, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskStarted})
	require.NoError(t, err)

	_, err = ApplyTaskRun(running, Event{Type: TaskStarted})
	require.Error(t, err)
}

func TestApplyTaskRun_WaitingRequiresReason(t *testing.T) {
	_, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskWaiting})
	require.Error(t, err)

	var invalid *InvalidTransitionError

	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, ReasonWaitingNeedsReason, invalid.Reason)

	waiting, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskWaiting, ReasonCode: "BLOCKED_DEPENDENCY"})
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, waiting.State)
	assert.Equal(t, "BLOCKED_DEPENDENCY", waiting.ReasonCode)
}

func TestApplyTaskRun_WaitingAcceptsDirectFailure(t *testing.T) {
	waiting, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskWaiting, ReasonCode: "BLOCKED_DEPENDENCY"})
	require.NoError(t, err)

	failed, err := ApplyTaskRun(waiting, Event{Type: TaskFailed, ReasonCode: models.ReasonDependencyFailed})
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, failed.State)
	assert.Equal(t, models.ReasonDependencyFailed, failed.ReasonCode)
	assert.NotNil(t, failed.Timestamps.EndedAt)
}

func TestApplyTaskRun_CancelFromPending(t *testing.T) {
	cancelled, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskCancelled, ReasonCode: models.ReasonUserCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, cancelled.State)
}

func TestApplyTaskRun_FailureRequiresActiveState(t *testing.T) {
	// Only the cancel cascade may reach a run that never started; failing
	// a PENDING run requires parking it in WAITING first.
	for _, eventType := range []EventType{TaskFailed, TaskTimedOut} {
		_, err := ApplyTaskRun(pendingTaskRun(), Event{Type: eventType, ReasonCode: models.ReasonDependencyFailed})
		require.Error(t, err, "%s from PENDING", eventType)

		var invalid *InvalidTransitionError

		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, ReasonTransitionNotAllowed, invalid.Reason)
	}
}

func TestApplyTaskRun_SucceedRequiresRunning(t *testing.T) {
	_, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskSucceeded})
	require.Error(t, err)

	running, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskStarted})
	require.NoError(t, err)

	succeeded, err := ApplyTaskRun(running, Event{Type: TaskSucceeded})
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, succeeded.State)
	assert.Equal(t, models.ReasonSuccess, succeeded.ReasonCode)
}

func TestApplyTaskRun_TimedOutMapsToFailed(t *testing.T) {
	running, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskStarted})
	require.NoError(t, err)

	timedOut, err := ApplyTaskRun(running, Event{Type: TaskTimedOut, Message: "task timed out after 500ms"})
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, timedOut.State)
	assert.Equal(t, models.ReasonTimeout, timedOut.ReasonCode)
}

func TestApplyTaskRun_TerminalStatesAreImmutable(t *testing.T) {
	running, err := ApplyTaskRun(pendingTaskRun(), Event{Type: TaskStarted})
	require.NoError(t, err)

	succeeded, err := ApplyTaskRun(running, Event{Type: TaskSucceeded})
	require.NoError(t, err)

	allEvents := []EventType{TaskStarted, TaskSucceeded, TaskFailed, TaskCancelled, TaskTimedOut, TaskWaiting}
	for _, eventType := range allEvents {
		_, err := ApplyTaskRun(succeeded, Event{Type: eventType, ReasonCode: "X"})
		require.Error(t, err)

		var invalid *InvalidTransitionError

		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, ReasonTerminalImmutable, invalid.Reason)
	}
}
