package web

// TriggerExecutionRequest starts a new execution of a workflow.
type TriggerExecutionRequest struct {
	// ExecutionID is optional; when empty the server assigns one.
	ExecutionID string `json:"execution_id,omitempty"`

	TriggerType string `json:"trigger_type,omitempty"`
}

// CancelExecutionRequest cancels a running execution.
type CancelExecutionRequest struct {
	Message string `json:"message,omitempty"`
}
