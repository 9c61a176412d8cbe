// Package api is herald's HTTP surface: the token-addressed reviewer
// endpoints under /a/, the admin console under /admin/, and the middleware
// stack in front of them. Errors leave as RFC 7807 problem documents;
// success responses are plain JSON.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// problemTypeFmt is the problem-type URI namespace. The status code is the
// only variable part; titles carry the human summary.
const problemTypeFmt = "https://herald.peycheff.com/errors/%d"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs). State
// is an extension member carrying the stable machine verdict of reviewer
// actions ("expired", "already_processed", ...), so callers never parse
// Detail.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	State    string `json:"state,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblemDoc(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 problem document with the standard title for
// the status code.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblemDoc(w, &ProblemDetail{
		Type:   fmt.Sprintf(problemTypeFmt, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR is WriteError enriched with request context: instance from the
// request path, trace id from the X-Request-ID response header, and the
// machine-readable state verdict.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, state, detail string) {
	writeProblemDoc(w, &ProblemDetail{
		Type:     fmt.Sprintf(problemTypeFmt, status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		State:    state,
		TraceID:  w.Header().Get(requestIDHeader),
	})
}

// WriteBadRequest writes a 400 problem document.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 problem document.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 problem document.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 problem document.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteConflict writes a 409 problem document.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteGone writes a 410 problem document, used when a review window or an
// action token has expired.
func WriteGone(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusGone, "Gone", detail)
}

// WriteTooManyRequests writes a 429 problem document with a Retry-After
// header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 problem document. The err is logged but never
// exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred. Please try again later.")
}

// writeJSON writes a plain JSON success body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
