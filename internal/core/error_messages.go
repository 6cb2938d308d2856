package core

// error_messages.go turns errors into user-facing messages with a code for
// support reference.
//
// Domain errors are matched by type first. Anything else, typically driver
// and network errors, is matched against a pattern table. Codes:
//
//	SCH001  Invalid table definition          (*SchemaError)
//	SCH002  Table already exists              (ErrTableExists)
//	TBL001  Table not found                   (*NotFoundError, "table not found")
//	MAP001  Invalid column mapping            (*MappingError)
//	FILE001 File too large                    ("file too large")
//	FILE002 Invalid CSV                       (*ParseError, "invalid csv")
//	FILE003 Invalid workbook                  ("open workbook", "zip: not a valid zip file")
//	FILE004 No file provided                  ("no file provided")
//	FILE005 Empty file                        ("empty file")
//	IMP001  Too many concurrent imports       (ErrTooManyImports)
//	IMP002  Request cancelled                 (context.Canceled)
//	IMP003  Request timed out                 (context.DeadlineExceeded)
//	DB001   Duplicate key                     ("duplicate key")
//	DB002   Unique constraint                 ("unique constraint", "violates unique")
//	DB003   Not-null constraint               ("violates not-null")
//	DB004   Connection refused                ("connection refused")
//	DB005   Connection reset                  ("connection reset")
//	DB006   Timeout                           ("timeout")
//	DB007   Deadlock                          ("deadlock")
//	RATE001 Rate limited                      ("rate limit")
//	ERR000  Anything else; check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// Database constraint errors. The import pipeline checks these itself, so
	// they only surface when the database backstop fires.
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A row with this value already exists",
			Action:  "Remove duplicate values for unique columns and retry",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates not-null",
		msg: UserMessage{
			Message: "A required value is missing",
			Action:  "Fill in every non-nullable column",
			Code:    "DB003",
		},
	},

	// Database connection errors
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
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Check quoting: fields containing commas, quotes or newlines must be wrapped in double quotes",
			Code:    "FILE002",
		},
	},
	{
		pattern: "open workbook",
		msg: UserMessage{
			Message: "File is not a valid Excel workbook",
			Action:  "Save the file as .xlsx and upload it again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "not a valid zip file",
		msg: UserMessage{
			Message: "File is not a valid Excel workbook",
			Action:  "Save the file as .xlsx and upload it again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a file with a header row",
			Code:    "FILE005",
		},
	},

	// Generic timeouts after the more specific context errors
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try uploading a smaller file or try again later",
			Code:    "DB006",
		},
	},

	{
		pattern: "table not found",
		msg: UserMessage{
			Message: "Table not found",
			Action:  "Verify the table name is correct",
			Code:    "TBL001",
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

// MapError converts an error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&NotFoundError{Table: "users"})
//	// msg.Code == "TBL001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapDomainError(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mapDomainError(err error) (UserMessage, bool) {
	var (
		se *SchemaError
		nf *NotFoundError
		me *MappingError
		pe *ParseError
	)
	switch {
	case errors.Is(err, ErrTableExists):
		return UserMessage{
			Message: "A table with this name already exists",
			Action:  "Choose a different table name or drop the existing table",
			Code:    "SCH002",
		}, true
	case errors.As(err, &se):
		return UserMessage{
			Message: "Invalid table definition: " + se.Reason,
			Action:  "Fix the table definition and try again",
			Code:    "SCH001",
		}, true
	case errors.As(err, &nf):
		return UserMessage{
			Message: fmt.Sprintf("Table %s does not exist", nf.Table),
			Action:  "Verify the table name is correct",
			Code:    "TBL001",
		}, true
	case errors.As(err, &me):
		return UserMessage{
			Message: "Invalid column mapping: " + me.Reason,
			Action:  "Map every file header to a distinct column and cover all required columns",
			Code:    "MAP001",
		}, true
	case errors.As(err, &pe):
		if errors.Is(err, errEmptyFile) {
			return UserMessage{
				Message: "The uploaded file is empty",
				Action:  "Upload a file with a header row",
				Code:    "FILE005",
			}, true
		}
		if strings.Contains(pe.Error(), "open workbook") {
			return UserMessage{
				Message: "File is not a valid Excel workbook",
				Action:  "Save the file as .xlsx and upload it again",
				Code:    "FILE003",
			}, true
		}
		return UserMessage{
			Message: pe.Error(),
			Action:  "Check quoting: fields containing commas, quotes or newlines must be wrapped in double quotes",
			Code:    "FILE002",
		}, true
	case errors.Is(err, ErrTooManyImports):
		return UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		}, true
	case errors.Is(err, context.Canceled):
		return UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP002",
		}, true
	case errors.Is(err, context.DeadlineExceeded):
		return UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "IMP003",
		}, true
	}
	return UserMessage{}, false
}
