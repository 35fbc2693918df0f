package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"techclinic/internal/models"
)

// FakeToken is the bearer token the fake API issues and accepts.
const FakeToken = "fake-token-123"

// NetworkError makes FailOn drop the connection instead of answering.
const NetworkError = -1

// RecordedRequest is one call received by the fake API.
type RecordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

// FakeAPI is an in-memory stand-in for the remote TechClinic API. It keeps
// authoritative stock and rejects over-limit assignments, like the real
// server is expected to.
type FakeAPI struct {
	Server *httptest.Server

	mu        sync.Mutex
	users     map[string]string
	customers []models.Customer
	parts     []models.Part
	boxes     []models.Box
	jobs      []models.RepairJob
	usages    map[string][]models.PartUsage
	alerts    []models.BoxAlert
	counts    map[string]int
	failures  map[string]int
	requests  []RecordedRequest
	nextID    int
}

// NewFakeAPI starts a fake API seeded with a small shop. The server is
// closed when the test ends.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		users: map[string]string{"admin": "secret"},
		customers: []models.Customer{
			{ID: "1", Name: "John Doe", MobileNumber: "1234567890"},
			{ID: "2", Name: "Jane Smith", MobileNumber: "0987654321"},
			{ID: "3", Name: "Ali Hassan", MobileNumber: "5550001111"},
		},
		parts: []models.Part{
			{ID: "P001", Name: "Battery"},
			{ID: "P002", Name: "Screen"},
			{ID: "P003", Name: "Charging Port"},
		},
		boxes: []models.Box{
			{ID: "B001", Name: "Box A", Quantity: 30, Parts: []models.BoxPart{
				{PartID: "P001", Quantity: 20},
				{PartID: "P002", Quantity: 10},
				{PartID: "P003", Quantity: 0},
			}},
			{ID: "B002", Name: "Box B", Quantity: 5, Parts: []models.BoxPart{
				{PartID: "P003", Quantity: 5},
			}},
		},
		jobs: []models.RepairJob{
			{ID: "1", CustomerID: "1", Status: "In Progress", Notes: "Screen flicker", CreatedAt: "2025-07-03T10:00:00Z"},
			{ID: "2", CustomerID: "3", Status: "Pending", Notes: "Battery swelling", CreatedAt: "2025-07-04T09:30:00Z"},
		},
		usages: map[string][]models.PartUsage{},
		alerts: []models.BoxAlert{
			{ID: "B002", Name: "Box B", PartName: "Charging Port", Quantity: 5},
		},
		counts:   map[string]int{"accessories": 7, "boxes": 2, "parts": 3},
		failures: map[string]int{},
		nextID:   100,
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Post("/api/login", f.login)
	r.Group(func(r chi.Router) {
		r.Use(f.requireToken)
		r.Get("/api/customers", f.list(func() interface{} { return f.customers }))
		r.Get("/api/parts", f.list(func() interface{} { return f.parts }))
		r.Get("/api/boxes", f.list(func() interface{} { return f.boxes }))
		r.Get("/api/boxes/alerts", f.list(func() interface{} { return f.alerts }))
		r.Get("/api/boxes/{id}/parts", f.boxParts)
		r.Get("/api/{resource}/count", f.count)
		r.Get("/api/repair-jobs", f.list(func() interface{} { return f.jobs }))
		r.Post("/api/repair-jobs", f.createJob)
		r.Put("/api/repair-jobs/{id}/status", f.updateJob)
		r.Get("/api/repair-jobs/{id}/parts", f.partsUsed)
		r.Post("/api/repair-jobs/{id}/parts", f.assignPart)
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API root, e.g. http://127.0.0.1:1234/api.
func (f *FakeAPI) URL() string { return f.Server.URL + "/api" }

// FailOn makes method+path answer with status (or NetworkError).
func (f *FakeAPI) FailOn(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = status
}

// Heal clears every configured failure.
func (f *FakeAPI) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = map[string]int{}
}

// Requests returns the calls received for method+path.
func (f *FakeAPI) Requests(method, path string) []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RecordedRequest
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Box returns the server-side copy of a box.
func (f *FakeAPI) Box(id string) (models.Box, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.boxes {
		if b.ID == id {
			return cloneBox(b), true
		}
	}
	return models.Box{}, false
}

// SetBoxPart overwrites a box-part quantity on the server side only,
// simulating another workstation consuming stock.
func (f *FakeAPI) SetBoxPart(boxID, partID string, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.boxes {
		if f.boxes[i].ID != boxID {
			continue
		}
		for j := range f.boxes[i].Parts {
			if f.boxes[i].Parts[j].PartID == partID {
				f.boxes[i].Quantity += qty - f.boxes[i].Parts[j].Quantity
				f.boxes[i].Parts[j].Quantity = qty
			}
		}
	}
}

// Usages returns the server-side usages of a job.
func (f *FakeAPI) Usages(jobID string) []models.PartUsage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PartUsage(nil), f.usages[jobID]...)
}

// Jobs returns the server-side jobs.
func (f *FakeAPI) Jobs() []models.RepairJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RepairJob(nil), f.jobs...)
}

func cloneBox(b models.Box) models.Box {
	b.Parts = append([]models.BoxPart(nil), b.Parts...)
	return b
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			r.Body.Close()
			if len(data) > 0 {
				json.Unmarshal(data, &rec.Body)
			}
			r.Body = io.NopCloser(strings.NewReader(string(data)))
		}

		f.mu.Lock()
		f.requests = append(f.requests, rec)
		status, failing := f.failures[r.Method+" "+r.URL.Path]
		f.mu.Unlock()

		if failing {
			if status == NetworkError {
				if hj, ok := w.(http.Hijacker); ok {
					conn, _, err := hj.Hijack()
					if err == nil {
						conn.Close()
						return
					}
				}
				status = http.StatusBadGateway
			}
			writeJSON(w, status, map[string]string{"error": "simulated failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *FakeAPI) list(get func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data, _ := json.Marshal(get())
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	pw, ok := f.users[body.Username]
	f.mu.Unlock()
	if !ok || pw != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": FakeToken})
}

func (f *FakeAPI) count(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	n, ok := f.counts[chi.URLParam(r, "resource")]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown resource"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (f *FakeAPI) boxParts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.boxes {
		if b.ID == id {
			out := make([]models.BoxPart, 0, len(b.Parts))
			for _, p := range b.Parts {
				p.Name = f.partName(p.PartID)
				out = append(out, p)
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Box not found"})
}

func (f *FakeAPI) partName(id string) string {
	for _, p := range f.parts {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func (f *FakeAPI) createJob(w http.ResponseWriter, r *http.Request) {
	var body models.NewRepairJob
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CustomerID == "" || body.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_id and status are required"})
		return
	}
	f.mu.Lock()
	f.nextID++
	job := models.RepairJob{
		ID:         fmt.Sprintf("%d", f.nextID),
		CustomerID: body.CustomerID,
		Status:     body.Status,
		Notes:      body.Notes,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, job)
}

func (f *FakeAPI) updateJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body models.StatusUpdate
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			f.jobs[i].Status = body.Status
			f.jobs[i].Notes = body.Notes
			writeJSON(w, http.StatusOK, f.jobs[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Repair job not found"})
}

func (f *FakeAPI) partsUsed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f.mu.Lock()
	out := append([]models.PartUsage{}, f.usages[id]...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) assignPart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body models.PartAssignment
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.boxes {
		if f.boxes[i].ID != body.BoxID {
			continue
		}
		for j := range f.boxes[i].Parts {
			p := &f.boxes[i].Parts[j]
			if p.PartID != body.PartID {
				continue
			}
			if body.Quantity < 1 || body.Quantity > p.Quantity {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Insufficient stock"})
				return
			}
			p.Quantity -= body.Quantity
			f.boxes[i].Quantity -= body.Quantity
			f.nextID++
			usage := models.PartUsage{
				ID:       fmt.Sprintf("U%d", f.nextID),
				PartID:   body.PartID,
				BoxID:    body.BoxID,
				Quantity: body.Quantity,
				UsedAt:   time.Now().UTC().Format(time.RFC3339),
			}
			f.usages[id] = append(f.usages[id], usage)
			writeJSON(w, http.StatusCreated, usage)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Part not found in box"})
}
