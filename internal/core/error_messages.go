package core

// error_messages.go maps technical errors to messages users can act on.
//
// Every message carries a code that users can quote to support:
//
//	VAL001  - Invalid request: no user or file id
//	VAL004  - Missing column: a required log column is absent from the header
//	FILE001 - File too large: upload exceeds the configured size limit
//	FILE002 - Invalid CSV: the file could not be read as CSV
//	FILE004 - No file: the request carried no file
//	FILE006 - Unsupported format: only .csv logs can be analysed
//	FILE007 - File not found: no stored file with this id
//	UPL001  - Processing cancelled
//	UPL002  - System busy: all processing slots are in use
//	UPL003  - Job not found: the job id is unknown or has expired
//	UPL004  - Request cancelled
//	UPL005  - Request timeout
//	RES001  - Result not found: the file has not been analysed yet
//	DB004   - Storage unavailable
//	DB006   - Storage timeout
//	RATE001 - Rate limited
//	ERR000  - Anything else; check the logs for the technical error
//
// Typed errors are matched first with errors.Is/errors.As. Errors that only
// exist as text (driver messages, wrapped strings) fall back to a
// case-insensitive substring table; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/bidlog/internal/filestore"
	"github.com/JonMunkholm/bidlog/internal/logparse"
	"github.com/JonMunkholm/bidlog/internal/store"
)

// UserMessage contains a user-friendly error message with guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgInvalidRequest = UserMessage{
		Message: "Request is missing a user or file id",
		Action:  "Send the X-User-ID header and a file id",
		Code:    "VAL001",
	}
	msgMissingColumn = UserMessage{
		Message: "Required column is missing from the log",
		Action:  "Check that the header contains every required column",
		Code:    "VAL004",
	}
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the log into smaller files",
		Code:    "FILE001",
	}
	msgInvalidCSV = UserMessage{
		Message: "File could not be read as CSV",
		Action:  "Ensure the file is comma-separated with a header row",
		Code:    "FILE002",
	}
	msgNoFile = UserMessage{
		Message: "No file was provided",
		Action:  "Select a CSV log to upload",
		Code:    "FILE004",
	}
	msgUnsupported = UserMessage{
		Message: "Unsupported file format",
		Action:  "Upload the log as a .csv file",
		Code:    "FILE006",
	}
	msgFileNotFound = UserMessage{
		Message: "File not found",
		Action:  "Upload the file again",
		Code:    "FILE007",
	}
	msgCancelled = UserMessage{
		Message: "Processing was cancelled",
		Action:  "Start processing again when ready",
		Code:    "UPL001",
	}
	msgBusy = UserMessage{
		Message: "Too many files are being processed",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgJobNotFound = UserMessage{
		Message: "Processing job not found",
		Action:  "The job may have expired. Check the analysis result or process the file again",
		Code:    "UPL003",
	}
	msgRequestCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}
	msgTimeout = UserMessage{
		Message: "Processing timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}
	msgResultNotFound = UserMessage{
		Message: "No analysis exists for this file",
		Action:  "Process the file first",
		Code:    "RES001",
	}
)

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach result storage",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Storage connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Storage operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{pattern: "request body too large", msg: msgTooLarge},
	{pattern: "no such file", msg: msgNoFile},
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
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
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

func mapTyped(err error) (UserMessage, bool) {
	var schemaErr *logparse.SchemaError
	var streamErr *logparse.StreamError

	switch {
	case errors.As(err, &schemaErr):
		msg := msgMissingColumn
		msg.Message = fmt.Sprintf("Required column %s is missing from the log", schemaErr.Column)
		return msg, true
	case errors.As(err, &streamErr):
		return msgInvalidCSV, true
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, filestore.ErrInvalidUser):
		return msgInvalidRequest, true
	case errors.Is(err, ErrUnsupportedFormat):
		return msgUnsupported, true
	case errors.Is(err, ErrTooManyJobs):
		return msgBusy, true
	case errors.Is(err, ErrJobNotFound):
		return msgJobNotFound, true
	case errors.Is(err, ErrJobCancelled):
		return msgCancelled, true
	case errors.Is(err, store.ErrNotFound):
		return msgResultNotFound, true
	case errors.Is(err, filestore.ErrNotFound):
		return msgFileNotFound, true
	case errors.Is(err, filestore.ErrTooLarge):
		return msgTooLarge, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout, true
	case errors.Is(err, context.Canceled):
		return msgRequestCancelled, true
	}
	return UserMessage{}, false
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
