package web

// errors.go turns handler errors into JSON responses.
//
// The technical error is logged with the request id; the client receives
// the mapped user message and its support code. Status codes come from the
// error code unless the handler passes one explicitly.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/bidlog/internal/core"
	"github.com/JonMunkholm/bidlog/internal/logging"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// codeStatus maps user message codes to HTTP status codes.
var codeStatus = map[string]int{
	"VAL001":  http.StatusBadRequest,
	"VAL004":  http.StatusUnprocessableEntity,
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusUnprocessableEntity,
	"FILE004": http.StatusBadRequest,
	"FILE006": http.StatusUnsupportedMediaType,
	"FILE007": http.StatusNotFound,
	"UPL001":  http.StatusConflict,
	"UPL002":  http.StatusServiceUnavailable,
	"UPL003":  http.StatusNotFound,
	"UPL004":  499,
	"UPL005":  http.StatusGatewayTimeout,
	"RES001":  http.StatusNotFound,
	"DB004":   http.StatusServiceUnavailable,
	"DB006":   http.StatusGatewayTimeout,
	"RATE001": http.StatusTooManyRequests,
}

// statusFor returns the HTTP status for a mapped error code.
func statusFor(code string) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped message. A zero status is
// derived from the error code. Server errors and errors without a specific
// message are logged at error level.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	if status == 0 {
		status = statusFor(msg.Code)
	}

	log := logging.FromContext(r.Context())
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	if status == http.StatusTooManyRequests || msg.Code == "UPL002" {
		w.Header().Set("Retry-After", "60")
	}
	writeJSONStatus(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v with the given status. Encoding errors are
// logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
