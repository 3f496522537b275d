// filepath: internal/flow/definitions.go
// Package flow implements the conversation state machine for EnquiryBot.
//
// Each named flow type has a static Definition: an ordered list of required
// fields, per-field prompts, and a completion action. Definitions are
// resolved through a registry keyed by the flow type enumeration, never by
// string-built handler names.
package flow

import (
	"github.com/CampusKit/enquirybot/internal/models"
)

// Definition describes one intake flow: which fields it collects, in which
// preferred order, and what happens on completion.
type Definition struct {
	Type models.FlowType
	// RequiredFields is the ordered step list. The engine asks for the first
	// still-missing field, so a field supplied out of order is skipped, not
	// re-asked.
	RequiredFields []models.FieldKey
	// Greeting opens the conversation when a new session starts.
	Greeting string
	// ConfirmationTemplate is the final reply; %s receives the enquiry number.
	ConfirmationTemplate string
}

// prompt texts per field, shared across flows.
var fieldPrompts = map[models.FieldKey]string{
	models.FieldStudentName: "What is the student's full name?",
	models.FieldParentName:  "May I have the parent or guardian's name?",
	models.FieldEmail:       "What email address should we use? (e.g. parent@example.com)",
	models.FieldPhone:       "Please share a 10-digit mobile number we can reach you on.",
	models.FieldGrade:       "Which grade is the admission for? (e.g. Grade 5, Nursery, LKG)",
	models.FieldBoard:       "Which curriculum board do you prefer? (CBSE, ICSE, CAIE, IGCSE, IB or State)",
	models.FieldDateOfBirth: "What is the student's date of birth? (DD/MM/YYYY)",
}

// retryPrompts re-ask for the same field with an example after invalid input.
var retryPrompts = map[models.FieldKey]string{
	models.FieldStudentName: "Sorry, I didn't catch the name. Please type the student's full name, letters only.",
	models.FieldParentName:  "Sorry, I didn't catch that. Please type the parent or guardian's full name.",
	models.FieldEmail:       "That doesn't look like a valid email address. Please try again, e.g. parent@example.com.",
	models.FieldPhone:       "That doesn't look like a valid mobile number. Please send a 10-digit number, e.g. 9876543210.",
	models.FieldGrade:       "Please tell me the grade as \"Grade 1\" to \"Grade 12\", or Nursery, PP1, PP2, LKG, UKG.",
	models.FieldBoard:       "Please pick one of the boards we offer: CBSE, ICSE, CAIE, IGCSE, IB or State.",
	models.FieldDateOfBirth: "Please send the date of birth as DD/MM/YYYY, e.g. 15/06/2015.",
}

// boardOptions are offered as quick replies when asking for the board.
var boardOptions = []string{"CBSE", "ICSE", "CAIE", "IGCSE", "IB", "State"}

// registry maps each flow type to its definition.
var registry = map[models.FlowType]Definition{
	models.FlowTypeAdmission: {
		Type: models.FlowTypeAdmission,
		RequiredFields: []models.FieldKey{
			models.FieldStudentName, models.FieldParentName, models.FieldEmail,
			models.FieldPhone, models.FieldGrade, models.FieldBoard, models.FieldDateOfBirth,
		},
		Greeting:             "Welcome! I can help you with the admission process. Let's get started.",
		ConfirmationTemplate: "Thank you! Your admission enquiry has been registered. Your enquiry number is %s. Our admissions team will contact you shortly.",
	},
	models.FlowTypeInformation: {
		Type: models.FlowTypeInformation,
		RequiredFields: []models.FieldKey{
			models.FieldStudentName, models.FieldEmail, models.FieldPhone, models.FieldGrade,
		},
		Greeting:             "Happy to share more about our school. A few quick details first.",
		ConfirmationTemplate: "Thank you! We've recorded your information request under enquiry number %s and will email you our prospectus.",
	},
	models.FlowTypeCallback: {
		Type: models.FlowTypeCallback,
		RequiredFields: []models.FieldKey{
			models.FieldParentName, models.FieldPhone,
		},
		Greeting:             "Sure, we can call you back. Just two quick details.",
		ConfirmationTemplate: "Done! Your callback request is registered as %s. Expect a call within one working day.",
	},
	models.FlowTypeTour: {
		Type: models.FlowTypeTour,
		RequiredFields: []models.FieldKey{
			models.FieldParentName, models.FieldEmail, models.FieldPhone,
		},
		Greeting:             "We'd love to show you around campus. A few details to book your tour.",
		ConfirmationTemplate: "Your campus tour request is registered as %s. We'll reach out to schedule a convenient slot.",
	},
	models.FlowTypeFees: {
		Type: models.FlowTypeFees,
		RequiredFields: []models.FieldKey{
			models.FieldStudentName, models.FieldPhone, models.FieldGrade, models.FieldBoard,
		},
		Greeting:             "I can share the fee structure with you. A few details first.",
		ConfirmationTemplate: "Thanks! Your fee enquiry is registered as %s. We'll send the fee structure for the selected grade and board.",
	},
}

// Menu is the reply for a message that arrives with no active session and no
// chosen flow: the capability prompt plus one option per flow.
func Menu(sessionID string) models.ChatReply {
	return models.ChatReply{
		ReplyText: genericPrompt,
		Options: []string{
			string(models.FlowTypeAdmission),
			string(models.FlowTypeInformation),
			string(models.FlowTypeCallback),
			string(models.FlowTypeTour),
			string(models.FlowTypeFees),
		},
		SessionID: sessionID,
	}
}

// GetDefinition retrieves the Definition for a flow type.
func GetDefinition(ft models.FlowType) (Definition, bool) {
	def, ok := registry[ft]
	return def, ok
}

// NextMissingField scans the definition's required-field list in order and
// returns the first field the session has not collected yet. ok is false when
// every required field is present.
func (d Definition) NextMissingField(s *models.Session) (models.FieldKey, bool) {
	for _, key := range d.RequiredFields {
		if s.Field(key) == "" {
			return key, true
		}
	}
	return "", false
}

// PromptFor returns the question text and any quick-reply options for a field.
func PromptFor(key models.FieldKey, retry bool) (string, []string) {
	var text string
	if retry {
		text = retryPrompts[key]
	} else {
		text = fieldPrompts[key]
	}
	if text == "" {
		text = genericPrompt
	}
	if key == models.FieldBoard {
		return text, boardOptions
	}
	return text, nil
}

// isNameField reports whether a field is filled by the residual-text name
// heuristic. Name-kind values are only accepted for the current step, never
// merged opportunistically, because the heuristic cannot tell student and
// parent names apart.
func isNameField(key models.FieldKey) bool {
	return key == models.FieldStudentName || key == models.FieldParentName
}
