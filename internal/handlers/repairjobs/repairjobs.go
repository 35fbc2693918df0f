package repairjobs

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"techclinic/internal/apiclient"
	"techclinic/internal/audit"
	"techclinic/internal/export"
	"techclinic/internal/models"
	"techclinic/internal/repair"
	"techclinic/internal/response"
	"techclinic/internal/session"
	"techclinic/internal/validation"
)

// Handler serves the repair job list, the job form and the part
// assignment workflow of the open job.
type Handler struct {
	Audit  *audit.Ledger
	Logger *zap.Logger

	// Workspace returns the request session's workspace.
	Workspace func(r *http.Request) *repair.Workspace
}

// call carries one request's workspace and the notices it produced.
type call struct {
	ws  *repair.Workspace
	rec *repair.Recorder
	r   *http.Request
}

func (h *Handler) begin(r *http.Request) *call {
	rec := &repair.Recorder{}
	r = r.WithContext(repair.WithNotifier(r.Context(), rec))
	ws := h.Workspace(r)
	ws.EnsureLoaded(r.Context())
	return &call{ws: ws, rec: rec, r: r}
}

func username(r *http.Request) string {
	if sess, ok := session.FromContext(r.Context()); ok {
		return sess.Username
	}
	return "system"
}

// fail maps a workflow error to a response. Local rejections are 400 (404
// for unknown records); remote failures keep the API's status.
func (h *Handler) fail(w http.ResponseWriter, c *call, err error, details interface{}) {
	notices := c.rec.Notices()
	var rej *repair.Rejection
	if errors.As(err, &rej) {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, repair.ErrUnknownJob), errors.Is(err, repair.ErrUnknownBox):
			status = http.StatusNotFound
		case errors.Is(err, repair.ErrSelectionChanged):
			status = http.StatusConflict
		}
		if rej.Fields != nil && details == nil {
			details = rej.Fields
		}
		response.ErrDetails(w, rej.Message, status, details, notices...)
		return
	}
	h.Logger.Warn("repair job request failed", zap.String("path", c.r.URL.Path), zap.Error(err))
	response.ErrDetails(w, apiclient.Message(err, "Request failed"), apiclient.StatusCode(err), details, notices...)
}

// List returns the jobs matching ?search=, optionally re-fetching first
// with ?refresh=true.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		c.ws.RefreshCustomers(c.r.Context())
		if err := c.ws.RefreshJobs(c.r.Context()); err != nil {
			h.fail(w, c, err, nil)
			return
		}
	}
	views, sample := c.ws.ListJobs(r.URL.Query().Get("search"))
	response.JSONMeta(w, views, models.Meta{Total: len(views), Sample: sample}, c.rec.Notices()...)
}

// Create saves a new job. On failure the submitted form is echoed back so
// the caller can keep it populated.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	var form repair.JobForm
	if err := response.DecodeBody(r, &form); err != nil {
		response.Err(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	form.ID = ""
	job, err := c.ws.SaveJob(c.r.Context(), form)
	if err != nil {
		h.fail(w, c, err, form)
		return
	}
	h.Audit.Log(r.Context(), username(r), audit.ActionCreate, audit.ModuleRepairJob, job.ID,
		fmt.Sprintf("Created repair job %s for customer %s (%s)", job.ID, job.CustomerID, job.Status))
	response.JSON(w, job, c.rec.Notices()...)
}

// Update changes a job's status and notes. The customer is never sent
// upstream; a body customer_id only satisfies validation for jobs not in
// the cached list.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	var form repair.JobForm
	if err := response.DecodeBody(r, &form); err != nil {
		response.Err(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	form.ID = chi.URLParam(r, "id")
	job, err := c.ws.SaveJob(c.r.Context(), form)
	if err != nil {
		h.fail(w, c, err, form)
		return
	}
	h.Audit.Log(r.Context(), username(r), audit.ActionUpdate, audit.ModuleRepairJob, job.ID,
		fmt.Sprintf("Set repair job %s to %s", job.ID, job.Status))
	response.JSON(w, job, c.rec.Notices()...)
}

var writeExport = export.Write

// Export writes the filtered list as CSV or XLSX.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.Err(w, err.Error(), http.StatusBadRequest)
		return
	}
	views, _ := c.ws.ListJobs(r.URL.Query().Get("search"))

	var buf bytes.Buffer
	if err := writeExport(&buf, format, "RepairJobs", export.JobHeaders, export.JobRows(views)); err != nil {
		h.Logger.Error("export repair jobs", zap.String("format", format), zap.Error(err))
		response.Err(w, "Export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename("repair_jobs", format))
	if _, err := buf.WriteTo(w); err != nil {
		h.Logger.Warn("send export", zap.Error(err))
		return
	}
	h.Audit.LogExport(r.Context(), username(r), audit.ModuleRepairJob, format, len(views))
}

// Get opens the job's detail, resetting its assignment form.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	d, err := c.ws.SelectJob(c.r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, c, err, nil)
		return
	}
	response.JSON(w, d, c.rec.Notices()...)
}

// Close closes the detail if the URL's job is the open one.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	ws := h.Workspace(r)
	if d, ok := ws.Detail(); ok && d.Job.ID == chi.URLParam(r, "id") {
		ws.CloseJob()
	}
	response.JSON(w, map[string]string{"status": "closed"})
}

// focus makes the URL's job the open one, keeping its form if it already is.
func (h *Handler) focus(w http.ResponseWriter, c *call) bool {
	if _, err := c.ws.Focus(c.r.Context(), chi.URLParam(c.r, "id")); err != nil {
		h.fail(w, c, err, nil)
		return false
	}
	return true
}

func (h *Handler) Assignment(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	if !h.focus(w, c) {
		return
	}
	st, err := c.ws.Assignment(c.r.Context())
	if err != nil {
		h.fail(w, c, err, nil)
		return
	}
	response.JSON(w, st, c.rec.Notices()...)
}

func (h *Handler) SelectBox(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	var body struct {
		BoxID string `json:"box_id"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !h.focus(w, c) {
		return
	}
	st, err := c.ws.SelectBox(c.r.Context(), strings.TrimSpace(body.BoxID))
	if err != nil {
		h.fail(w, c, err, nil)
		return
	}
	response.JSON(w, st, c.rec.Notices()...)
}

func (h *Handler) SelectPart(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	var body struct {
		PartID string `json:"part_id"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !h.focus(w, c) {
		return
	}
	st, err := c.ws.SelectPart(c.r.Context(), strings.TrimSpace(body.PartID))
	if err != nil {
		h.fail(w, c, err, nil)
		return
	}
	response.JSON(w, st, c.rec.Notices()...)
}

// SetQuantity stores the quantity, clamped to the selected part's stock.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "Quantity must be a whole number", http.StatusBadRequest)
		return
	}
	if !h.focus(w, c) {
		return
	}
	st, err := c.ws.SetQuantity(c.r.Context(), body.Quantity)
	if err != nil {
		h.fail(w, c, err, nil)
		return
	}
	response.JSON(w, st, c.rec.Notices()...)
}

// Submit posts the open job's assignment and returns the refreshed detail.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	c := h.begin(r)
	if !h.focus(w, c) {
		return
	}
	a, err := c.ws.SubmitAssignment(c.r.Context())
	if err != nil {
		st, _ := c.ws.Assignment(c.r.Context())
		h.fail(w, c, err, st)
		return
	}
	jobID := chi.URLParam(r, "id")
	h.Audit.Log(r.Context(), username(r), audit.ActionAssign, audit.ModulePart, jobID,
		fmt.Sprintf("Assigned %d x %s from box %s to repair job %s", a.Quantity, a.PartID, a.BoxID, jobID))

	d, _ := c.ws.Detail()
	response.JSON(w, d, c.rec.Notices()...)
}

// AuditLog lists recent local audit entries, filtered by ?module=,
// ?record_id= and ?limit= (1-500, default 50).
func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var limit int
	if raw := q.Get("limit"); raw != "" {
		ve := &validation.ValidationErrors{}
		n, err := strconv.Atoi(raw)
		if err != nil {
			ve.Add("limit", "must be a whole number")
		} else {
			validation.ValidateIntRange(ve, "limit", n, 1, 500)
		}
		if ve.HasErrors() {
			response.ErrDetails(w, "Invalid limit", http.StatusBadRequest, ve)
			return
		}
		limit = n
	}
	entries, err := h.Audit.Recent(r.Context(), audit.Filter{
		Module:   q.Get("module"),
		RecordID: q.Get("record_id"),
		Limit:    limit,
	})
	if err != nil {
		h.Logger.Error("list audit entries", zap.Error(err))
		response.Err(w, "Failed to load audit log", http.StatusInternalServerError)
		return
	}
	response.JSONMeta(w, entries, models.Meta{Total: len(entries)})
}
