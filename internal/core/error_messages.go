package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// Codes are grouped by category:
//
//	SEL001 - Invalid page selection (malformed pages parameter)
//	SEL002 - Page out of range (page beyond the document's last page)
//	EXT001 - Extraction failed on a page
//	EXT002 - Invalid detection mode
//	DOC001 - Document not found
//	DOC002 - Document unreadable
//	DOC003 - File too large
//	DOC004 - Not a PDF
//	DOC005 - No file provided
//	RUN001 - System busy (too many concurrent extractions)
//	RUN002 - Run not found or expired
//	RUN003 - Request cancelled
//	RUN004 - Request timed out
//	ART001 - No spreadsheets found
//	RATE001 - Rate limit exceeded
//	ERR000 - Fallback for anything unrecognized

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage contains user-friendly error information.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgSelection = UserMessage{
		Message: "The page selection is not valid",
		Action:  "Use all, a single page (3), a list (1,4,6), or a range (2-5 or 2-end)",
		Code:    "SEL001",
	}
	msgExtraction = UserMessage{
		Message: "Table extraction failed on a page",
		Action:  "Try the other detection mode or select different pages",
		Code:    "EXT001",
	}
	msgDocNotFound = UserMessage{
		Message: "The document was not found",
		Action:  "Upload the PDF again; uploads are removed after 24 hours",
		Code:    "DOC001",
	}
	msgDocUnreadable = UserMessage{
		Message: "The document could not be read",
		Action:  "Check that the file is a valid, unencrypted PDF",
		Code:    "DOC002",
	}
	msgTooManyRuns = UserMessage{
		Message: "Too many extractions in progress",
		Action:  "Please wait a moment and try again",
		Code:    "RUN001",
	}
	msgRunNotFound = UserMessage{
		Message: "Extraction session not found",
		Action:  "The session may have expired. Please start a new extraction",
		Code:    "RUN002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "RUN003",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Select fewer pages or try again later",
		Code:    "RUN004",
	}
	msgArtifacts = UserMessage{
		Message: "No spreadsheet files were found",
		Action:  "Run an extraction for this document first",
		Code:    "ART001",
	}
)

// errorPatterns catches errors that arrive as plain text (transport and
// library errors) after the typed checks in MapError.
var errorPatterns = []errorPattern{
	{
		pattern: "page out of range",
		msg: UserMessage{
			Message: "A selected page is beyond the end of the document",
			Action:  "Check the document's page count and adjust the selection",
			Code:    "SEL002",
		},
	},
	{
		pattern: "invalid detection mode",
		msg: UserMessage{
			Message: "The detection mode is not supported",
			Action:  "Use lattice for ruled tables or stream for whitespace tables",
			Code:    "EXT002",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the PDF into smaller documents",
			Code:    "DOC003",
		},
	},
	{
		pattern: "only pdf files",
		msg: UserMessage{
			Message: "Only PDF files are allowed",
			Action:  "Select a file with a .pdf extension",
			Code:    "DOC004",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a PDF file to upload",
			Code:    "DOC005",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a minute before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again. If the problem persists, contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var selErr *SelectionError
	var extErr *ExtractionError
	switch {
	case errors.As(err, &selErr):
		if strings.Contains(selErr.Reason, "page out of range") {
			break
		}
		return msgSelection
	case errors.As(err, &extErr):
		return msgExtraction
	case errors.Is(err, ErrDocumentNotFound):
		return msgDocNotFound
	case errors.Is(err, ErrDocumentUnreadable):
		return msgDocUnreadable
	case errors.Is(err, ErrTooManyRuns):
		return msgTooManyRuns
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound
	case errors.Is(err, ErrArtifactsNotFound):
		return msgArtifacts
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
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

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// MessageForCode returns the catalogue entry for a code recorded earlier,
// for example in a RunSummary. Unknown codes yield the generic message.
func MessageForCode(code string) UserMessage {
	for _, msg := range []UserMessage{
		msgSelection, msgExtraction, msgDocNotFound, msgDocUnreadable,
		msgTooManyRuns, msgRunNotFound, msgCancelled, msgTimeout, msgArtifacts,
	} {
		if msg.Code == code {
			return msg
		}
	}
	for _, ep := range errorPatterns {
		if ep.msg.Code == code {
			return ep.msg
		}
	}
	return defaultMessage
}
