package response

import (
	"encoding/json"
	"net/http"

	"techclinic/internal/models"
)

// JSON writes a successful API response with the given data.
func JSON(w http.ResponseWriter, data interface{}, notices ...models.Notice) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.APIResponse{Data: data, Notices: notices})
}

// JSONMeta writes a successful API response with list metadata.
func JSONMeta(w http.ResponseWriter, data interface{}, meta models.Meta, notices ...models.Notice) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.APIResponse{Data: data, Meta: &meta, Notices: notices})
}

// Err writes a JSON error response with the given message and HTTP status code.
func Err(w http.ResponseWriter, msg string, code int, notices ...models.Notice) {
	ErrDetails(w, msg, code, nil, notices...)
}

// ErrDetails writes a JSON error response carrying extra details, such as
// the submitted form so the caller can keep it populated.
func ErrDetails(w http.ResponseWriter, msg string, code int, details interface{}, notices ...models.Notice) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg, Details: details, Notices: notices})
}

// ErrCode writes a JSON error response with a machine-readable code.
func ErrCode(w http.ResponseWriter, msg, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg, Code: code})
}

// DecodeBody decodes a JSON request body into the given value.
func DecodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
