package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"techclinic/internal/db"
	"techclinic/internal/models"
)

// SetupTestDB creates an in-memory SQLite database with the techclinic
// schema applied. It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return testDB
}

// JSONRequest builds a request with a JSON body.
func JSONRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeAPIResponse decodes the standard envelope.
func DecodeAPIResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v (body: %s)", err, w.Body.String())
	}
	return resp
}

// DecodeData decodes the envelope's data field into v.
func DecodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) models.APIResponse {
	t.Helper()
	resp := DecodeAPIResponse(t, w)
	b, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	return resp
}

// DecodeError decodes an error body.
func DecodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error: %v (body: %s)", err, w.Body.String())
	}
	return resp
}

// AssertStatus fails the test if the recorder status differs.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("Expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}
