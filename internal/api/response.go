// Package api implements the HTTP API server for relayd.
package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes data as the JSON response body. Responses describe live
// relay and profile state and are never cacheable.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every non-2xx response:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// PageResponse is one page of a sorted list. Total counts the items that
// passed the endpoint's filters, before paging.
type PageResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func WritePage[T any](w http.ResponseWriter, status int, items []T, p Pagination) {
	WriteJSON(w, status, PageResponse[T]{
		Items:  PaginateSlice(items, p),
		Total:  len(items),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}
