// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType identifies one of the named intake flows.
type FlowType string

// StepName identifies the current position within a flow's ordered step list.
type StepName string

// FieldKey names a single collected intake field.
type FieldKey string

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

// Flow type constants.
const (
	FlowTypeAdmission   FlowType = "admission"
	FlowTypeInformation FlowType = "information"
	FlowTypeCallback    FlowType = "callback"
	FlowTypeTour        FlowType = "tour"
	FlowTypeFees        FlowType = "fees"
)

// IsValidFlowType checks if the given flow type is supported.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowTypeAdmission, FlowTypeInformation, FlowTypeCallback, FlowTypeTour, FlowTypeFees:
		return true
	default:
		return false
	}
}

// Field key constants. Ask-steps are named after the field they collect, so
// StepName(FieldEmail) is the step that prompts for the email address.
const (
	FieldStudentName FieldKey = "student_name"
	FieldParentName  FieldKey = "parent_name"
	FieldEmail       FieldKey = "email"
	FieldPhone       FieldKey = "phone"
	FieldGrade       FieldKey = "grade"
	FieldBoard       FieldKey = "board"
	FieldDateOfBirth FieldKey = "date_of_birth"
)

// Terminal step constants.
const (
	// StepReadyToSubmit is entered when every required field is present.
	StepReadyToSubmit StepName = "ready_to_submit"
	// StepCompleted is entered after the completion action has run once.
	StepCompleted StepName = "completed"
)

// Session status constants.
const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
)
