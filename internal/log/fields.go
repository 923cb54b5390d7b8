// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTimerID   = "timer_id"
	FieldGroupID   = "group_id"
	FieldChannel   = "channel"
	FieldEventID   = "event_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOp        = "op"

	// Schedule fields
	FieldStart    = "start"
	FieldDuration = "duration_min"
	FieldKind     = "kind"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
