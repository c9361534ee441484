// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Field names shared by every component. Events use "<area>.<what>".
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldChannel  = "channel"
	FieldJobID    = "job_id"
	FieldTrigger  = "trigger"
	FieldArtifact = "artifact"

	FieldOutcome  = "outcome"
	FieldReason   = "reason"
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	FieldPath = "path"
	FieldURL  = "url"
)
