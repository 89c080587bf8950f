package web

// errors.go provides unified error responses for the web layer.
//
// Every error is logged server-side with its technical detail and returned
// to the client as a failure envelope carrying the user message, a suggested
// action and a support code from core.MapError. The HTTP status follows the
// code: validation problems are 4xx, extraction failures are 422.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/logging"
	"github.com/JonMunkholm/tablextract/internal/storage"
	"github.com/JonMunkholm/tablextract/internal/web/templates"
)

// statusClientClosedRequest reports a request whose client went away.
const statusClientClosedRequest = 499

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func newErrorResponse(msg core.UserMessage) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// statusForCode maps a support code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case "SEL001", "SEL002", "EXT002", "DOC004", "DOC005":
		return http.StatusBadRequest
	case "DOC001", "RUN002", "ART001":
		return http.StatusNotFound
	case "DOC002", "EXT001":
		return http.StatusUnprocessableEntity
	case "DOC003":
		return http.StatusRequestEntityTooLarge
	case "RUN001":
		return http.StatusServiceUnavailable
	case "RUN003":
		return statusClientClosedRequest
	case "RUN004":
		return http.StatusGatewayTimeout
	case "RATE001":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the failure envelope with the status its
// code maps to.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusForCode(msg.Code)
	logError(r, err, msg, status)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, newErrorResponse(msg))
}

// respondErrorHTML renders the error as a page, for browser-facing routes.
func respondErrorHTML(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusForCode(msg.Code)
	logError(r, err, msg, status)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

func logError(r *http.Request, err error, msg core.UserMessage, status int) {
	logger := logging.WithFields(r.Context(),
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "error", err)
	} else {
		logger.Warn("request error", "error", err)
	}
}

// uploadError normalizes errors from reading a multipart upload so they map
// to the upload codes.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), strings.Contains(err.Error(), "request body too large"):
		return storage.ErrFileTooLarge
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingFile):
		return storage.ErrNoFile
	}
	return err
}
