// responses.go -- Package-wide HTTP response helpers.
//
// Shared by every handler. Fixed messages are plain ASCII; anything carrying
// user data goes through writeJSON so it is escaped.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/murmur/internal/account"
)

// writeJSON encodes body as the response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
func BadRequest(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response.
// Keep message generic to prevent user enumeration.
func Unauthorized(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 JSON response with a generic message.
func Forbidden(w http.ResponseWriter) {
	writeMessage(w, http.StatusForbidden, "forbidden")
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter) {
	writeMessage(w, http.StatusNotFound, "not found")
}

// Gone returns a 410 JSON response; used for expired reset links.
func Gone(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusGone, message)
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusOK, message)
}

// SeeOther redirects with 303 so clients follow with GET after a non-GET request.
// body is sent as JSON for API clients that do not follow redirects.
func SeeOther(w http.ResponseWriter, location string, body any) {
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusSeeOther, body)
}

// Unprocessable returns a 422 listing every failed field rule.
func Unprocessable(w http.ResponseWriter, verr *account.ValidationError) {
	writeJSON(w, http.StatusUnprocessableEntity, struct {
		Message string               `json:"message"`
		Errors  []account.FieldError `json:"errors"`
	}{"validation failed", verr.Errors})
}
