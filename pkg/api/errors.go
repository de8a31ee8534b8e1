package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"catalog-scraper/pkg/logger"
)

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

func (pd *ProblemDetails) Error() string {
	return fmt.Sprintf("%d %s: %s", pd.Status, pd.Title, pd.Detail)
}

// Problem builds a problem for status with the standard status text as title.
func Problem(status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// WriteProblem sends pd as application/problem+json.
func WriteProblem(w http.ResponseWriter, pd *ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pd.Status)
	if err := json.NewEncoder(w).Encode(pd); err != nil {
		logger.Component("api").WithError(err).Warn("Failed to write problem response")
	}
}

// WriteJSON sends v as a 200 response. The body is encoded before any header
// is written so an encoding failure can still become a 500 problem.
func WriteJSON(w http.ResponseWriter, r *http.Request, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Component("api").WithError(err).WithField("path", r.URL.Path).Error("Failed to encode response")
		WriteProblem(w, Problem(http.StatusInternalServerError, "failed to encode response", r.URL.Path))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// WriteStoreError reports a catalog database failure. The cause is logged,
// not echoed to the client.
func WriteStoreError(w http.ResponseWriter, err error, instance string) {
	logger.Component("api").WithError(err).WithField("path", instance).Error("Catalog query failed")
	WriteProblem(w, Problem(http.StatusInternalServerError, "catalog query failed", instance))
}

func WriteProductNotFound(w http.ResponseWriter, id, instance string) {
	WriteProblem(w, Problem(http.StatusNotFound, fmt.Sprintf("Product %s not found", id), instance))
}

// WriteInvalidLimit rejects a ?limit= value that is not a positive integer.
func WriteInvalidLimit(w http.ResponseWriter, raw, instance string) {
	detail := fmt.Sprintf("invalid limit %q: must be a positive integer", raw)
	WriteProblem(w, Problem(http.StatusBadRequest, detail, instance))
}

func WriteUnknownEndpoint(w http.ResponseWriter, instance string) {
	WriteProblem(w, Problem(http.StatusNotFound, "No such endpoint. See / for the API reference.", instance))
}

// WriteReadOnly answers writes against the catalog, which only serves GET.
func WriteReadOnly(w http.ResponseWriter, instance string) {
	w.Header().Set("Allow", http.MethodGet)
	WriteProblem(w, Problem(http.StatusMethodNotAllowed, "The catalog is read-only. Use GET.", instance))
}
