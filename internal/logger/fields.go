package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the durable daily job ID
	FieldJobID = "job_id"

	// FieldPlanID is the plan being delivered
	FieldPlanID = "plan_id"

	// FieldExecutionID is the delivery execution ID
	FieldExecutionID = "execution_id"

	// FieldRecipientID is the recipient being processed
	FieldRecipientID = "recipient_id"

	// FieldItemKey is the split item name
	FieldItemKey = "item_key"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Metric Fields (Entry level)
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldAttempt is the 0-based retry attempt
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
