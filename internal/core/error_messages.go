// Package core provides the import pipeline for the music library.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Typed errors are matched first with errors.Is and errors.As;
// anything else falls back to case-insensitive substring patterns.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Missing mapping: Title or copy count column is not mapped
//	         Action: Map every required field before importing
//	IMP002 - Invalid step: The wizard cannot move there from its current step
//	         Action: Use the wizard buttons to move between steps
//	IMP003 - Import running: Another import holds the only slot
//	         Action: Wait for it to finish and try again
//	IMP004 - Session expired: Import session not found
//	         Action: Upload the file again
//	IMP005 - No import: No import has been started for this session
//	         Action: Start the import first
//	IMP006 - Unknown column: The chosen column is not in the file
//	         Action: Pick one of the file's columns
//	IMP007 - Unknown field: The field name is not recognised
//	         Action: Use one of title, composer, libraryNumber, voicing, physicalCopies
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE004 - No file
//	FILE005 - Empty file
//	FILE006 - Wrong file type
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template name already used
//	TPL002 - Template not found
//	TPL003 - Template name missing
//
// # Database Errors (DB001-DB099)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout ("timeout", "context deadline exceeded")
//	DB007 - Deadlock
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check the
// application logs for the original error when users report ERR000.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgMissingMapping = UserMessage{
		Message: "Required columns are not mapped",
		Action:  "Map the Title and Physical Copies fields before importing",
		Code:    "IMP001",
	}
	msgInvalidStep = UserMessage{
		Message: "That step is not available right now",
		Action:  "Use the wizard buttons to move between steps",
		Code:    "IMP002",
	}
	msgImportRunning = UserMessage{
		Message: "Another import is running",
		Action:  "Please wait for it to finish and try again",
		Code:    "IMP003",
	}
	msgSessionExpired = UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Please upload the file again",
		Code:    "IMP004",
	}
	msgNoImport = UserMessage{
		Message: "No import has been started for this session",
		Action:  "Start the import first",
		Code:    "IMP005",
	}
	msgUnknownHeader = UserMessage{
		Message: "Column not found in the uploaded file",
		Action:  "Pick one of the file's columns",
		Code:    "IMP006",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}
	msgInvalidCSV = UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Ensure the file is comma-separated with a header row",
		Code:    "FILE002",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	}
	msgEmptyFile = UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with a header row",
		Code:    "FILE005",
	}
	msgInvalidType = UserMessage{
		Message: "Only .csv files can be imported",
		Action:  "Export your spreadsheet as CSV and try again",
		Code:    "FILE006",
	}
	msgTemplateNotFound = UserMessage{
		Message: "Template not found",
		Action:  "Refresh the template list and pick another one",
		Code:    "TPL002",
	}
	msgTemplateName = UserMessage{
		Message: "Template name is required",
		Action:  "Enter a name for the template",
		Code:    "TPL003",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Try again later or import a smaller file",
		Code:    "DB006",
	}
)

// errorTarget maps a sentinel error to its user message.
type errorTarget struct {
	target error
	msg    UserMessage
}

// sentinelErrors are checked with errors.Is in order.
var sentinelErrors = []errorTarget{
	{ErrEmptyFile, msgEmptyFile},
	{ErrFileTooLarge, msgFileTooLarge},
	{ErrInvalidFileType, msgInvalidType},
	{ErrNoFile, msgNoFile},
	{ErrSessionNotFound, msgSessionExpired},
	{ErrNoActiveImport, msgNoImport},
	{ErrUnknownHeader, msgUnknownHeader},
	{ErrTooManyImports, msgImportRunning},
	{ErrTemplateNameRequired, msgTemplateName},
	{catalog.ErrNotFound, msgTemplateNotFound},
	{context.DeadlineExceeded, msgTimeout},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages for errors that carry no type. The first match wins, so more
// specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "already exists",
		msg: UserMessage{
			Message: "A template with this name already exists",
			Action:  "Choose a different template name",
			Code:    "TPL001",
		},
	},
	{
		pattern: "unknown field",
		msg: UserMessage{
			Message: "Unknown field name",
			Action:  "Use one of title, composer, libraryNumber, voicing or physicalCopies",
			Code:    "IMP007",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{pattern: "timeout", msg: msgTimeout},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&MappingError{Missing: []Field{FieldTitle}})
//	// msg.Code == "IMP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	var me *MappingError
	if errors.As(err, &me) {
		return msgMissingMapping
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		if errors.Is(pe, ErrEmptyFile) {
			return msgEmptyFile
		}
		return msgInvalidCSV
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return msgInvalidStep
	}

	for _, st := range sentinelErrors {
		if errors.Is(err, st.target) {
			return st.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with the message shown for it.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err and keeps the original for logging.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
