package repairjobs

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"techclinic/internal/apiclient"
	"techclinic/internal/audit"
	"techclinic/internal/models"
	"techclinic/internal/repair"
	"techclinic/internal/session"
	"techclinic/internal/testutil"
)

type fixture struct {
	router http.Handler
	fake   *testutil.FakeAPI
	ws     *repair.Workspace
	audit  *audit.Ledger
}

func setup(t *testing.T, opts repair.Options) *fixture {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	logger := zaptest.NewLogger(t)
	client := apiclient.New(fake.URL()).WithToken(testutil.FakeToken)
	ws := repair.NewWorkspace(client, opts, nil, logger)
	ledger := audit.NewLedger(testutil.SetupTestDB(t), nil, logger)

	h := &Handler{
		Audit:     ledger,
		Logger:    logger,
		Workspace: func(*http.Request) *repair.Workspace { return ws },
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := session.NewContext(req.Context(), &session.Session{ID: "s1", Username: "tech"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/repair-jobs", h.List)
	r.Post("/repair-jobs", h.Create)
	r.Get("/repair-jobs/export", h.Export)
	r.Get("/repair-jobs/{id}", h.Get)
	r.Put("/repair-jobs/{id}", h.Update)
	r.Delete("/repair-jobs/{id}/detail", h.Close)
	r.Get("/repair-jobs/{id}/assignment", h.Assignment)
	r.Put("/repair-jobs/{id}/assignment/box", h.SelectBox)
	r.Put("/repair-jobs/{id}/assignment/part", h.SelectPart)
	r.Put("/repair-jobs/{id}/assignment/quantity", h.SetQuantity)
	r.Post("/repair-jobs/{id}/assignment", h.Submit)
	r.Get("/audit", h.AuditLog)
	return &fixture{router: r, fake: fake, ws: ws, audit: ledger}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, testutil.JSONRequest(method, path, body))
	return w
}

func TestList(t *testing.T) {
	f := setup(t, repair.Options{SampleFallback: true})

	w := f.do(http.MethodGet, "/repair-jobs?search=jane", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var views []repair.JobView
	resp := testutil.DecodeData(t, w, &views)
	require.Len(t, views, 0)
	require.NotNil(t, resp.Meta)
	assert.False(t, resp.Meta.Sample)

	w = f.do(http.MethodGet, "/repair-jobs?search=ali", nil)
	testutil.DecodeData(t, w, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "2", views[0].ID)
	assert.Equal(t, "Ali Hassan (5550001111)", views[0].CustomerLabel)
}

func TestListSampleFallback(t *testing.T) {
	f := setup(t, repair.Options{SampleFallback: true})
	f.fake.FailOn(http.MethodGet, "/api/repair-jobs", testutil.NetworkError)

	w := f.do(http.MethodGet, "/repair-jobs?refresh=true", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var views []repair.JobView
	resp := testutil.DecodeData(t, w, &views)
	assert.Len(t, views, 2)
	assert.True(t, resp.Meta.Sample)
	require.NotEmpty(t, resp.Notices)
	assert.Equal(t, models.LevelWarning, resp.Notices[0].Level)
}

func TestListRefreshFailureWithoutFallback(t *testing.T) {
	f := setup(t, repair.Options{})
	f.fake.FailOn(http.MethodGet, "/api/repair-jobs", http.StatusServiceUnavailable)

	w := f.do(http.MethodGet, "/repair-jobs?refresh=1", nil)
	testutil.AssertStatus(t, w, http.StatusServiceUnavailable)
	e := testutil.DecodeError(t, w)
	assert.NotEmpty(t, e.Notices)
}

func TestCreate(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodPost, "/repair-jobs", repair.JobForm{CustomerID: "2", Status: "pending", Notes: "No power"})
	testutil.AssertStatus(t, w, http.StatusOK)
	var job models.RepairJob
	resp := testutil.DecodeData(t, w, &job)
	assert.Equal(t, "101", job.ID)
	assert.Equal(t, "Pending", job.Status)
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, "Repair job created!", resp.Notices[0].Message)

	entries, err := f.audit.Recent(context.Background(), audit.Filter{Module: audit.ModuleRepairJob})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
	assert.Equal(t, "tech", entries[0].Username)
	assert.Equal(t, "101", entries[0].RecordID)
}

func TestCreateMissingFieldsEchoesForm(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodPost, "/repair-jobs", map[string]string{"notes": "keep me"})
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	e := testutil.DecodeError(t, w)
	assert.Equal(t, "Please fill in all required fields", e.Error)
	details, ok := e.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "keep me", details["notes"])
	assert.Empty(t, f.fake.Requests(http.MethodPost, "/api/repair-jobs"))
}

func TestCreateInvalidBody(t *testing.T) {
	f := setup(t, repair.Options{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/repair-jobs", strings.NewReader("{"))
	f.router.ServeHTTP(w, req)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestUpdateIgnoresCustomer(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodPut, "/repair-jobs/2", map[string]string{"customer_id": "1", "status": "Completed", "notes": "Swapped"})
	testutil.AssertStatus(t, w, http.StatusOK)

	reqs := f.fake.Requests(http.MethodPut, "/api/repair-jobs/2/status")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]interface{}{"status": "Completed", "notes": "Swapped"}, reqs[0].Body)

	job, ok := f.ws.Jobs.Find("2")
	require.True(t, ok)
	assert.Equal(t, "Completed", job.Status)
	assert.Equal(t, "3", job.CustomerID)
}

func TestUpdateUnknownJobKeepsRemoteStatus(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodPut, "/repair-jobs/999", map[string]string{"customer_id": "1", "status": "Pending"})
	testutil.AssertStatus(t, w, http.StatusNotFound)
	e := testutil.DecodeError(t, w)
	assert.Equal(t, "Repair job not found", e.Error)
}

func TestGetUnknownJob(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodGet, "/repair-jobs/42", nil)
	testutil.AssertStatus(t, w, http.StatusNotFound)
	e := testutil.DecodeError(t, w)
	assert.Equal(t, "Repair job 42 not found", e.Error)
}

func TestAssignmentFlow(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodGet, "/repair-jobs/1", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var d repair.Detail
	testutil.DecodeData(t, w, &d)
	assert.Equal(t, "John Doe (1234567890)", d.CustomerName)
	assert.Equal(t, 1, d.Assignment.Quantity)

	w = f.do(http.MethodPut, "/repair-jobs/1/assignment/box", map[string]string{"box_id": "B001"})
	testutil.AssertStatus(t, w, http.StatusOK)
	var st repair.AssignmentState
	testutil.DecodeData(t, w, &st)
	assert.Len(t, st.Available, 2)

	w = f.do(http.MethodPut, "/repair-jobs/1/assignment/part", map[string]string{"part_id": "P001"})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = f.do(http.MethodPut, "/repair-jobs/1/assignment/quantity", map[string]int{"quantity": 25})
	testutil.AssertStatus(t, w, http.StatusOK)
	resp := testutil.DecodeData(t, w, &st)
	assert.Equal(t, 20, st.Quantity)
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, "Only 20 available in this box", resp.Notices[0].Message)

	w = f.do(http.MethodPut, "/repair-jobs/1/assignment/quantity", map[string]int{"quantity": 5})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = f.do(http.MethodPost, "/repair-jobs/1/assignment", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	resp = testutil.DecodeData(t, w, &d)
	require.Len(t, d.PartsUsed, 1)
	assert.Equal(t, 5, d.PartsUsed[0].Quantity)
	assert.Equal(t, "", d.Assignment.BoxID)
	assert.Equal(t, "Part assigned to repair job!", resp.Notices[len(resp.Notices)-1].Message)

	box, ok := f.ws.Stock.Box("B001")
	require.True(t, ok)
	assert.Equal(t, 25, box.Quantity)

	entries, err := f.audit.Recent(context.Background(), audit.Filter{Module: audit.ModulePart, RecordID: "1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAssign, entries[0].Action)
}

func TestClose(t *testing.T) {
	f := setup(t, repair.Options{})
	f.do(http.MethodGet, "/repair-jobs/1", nil)

	w := f.do(http.MethodDelete, "/repair-jobs/2/detail", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	_, open := f.ws.Detail()
	assert.True(t, open, "closing another job leaves the open one alone")

	w = f.do(http.MethodDelete, "/repair-jobs/1/detail", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	_, open = f.ws.Detail()
	assert.False(t, open)
}

func TestSelectPartWithoutBox(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodPut, "/repair-jobs/1/assignment/part", map[string]string{"part_id": "P001"})
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	e := testutil.DecodeError(t, w)
	assert.Equal(t, "Select a box first", e.Error)
	require.Len(t, e.Notices, 1)
	assert.Equal(t, models.LevelError, e.Notices[0].Level)
}

func TestSelectUnknownBox(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodPut, "/repair-jobs/1/assignment/box", map[string]string{"box_id": "B999"})
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestSubmitServerRejection(t *testing.T) {
	f := setup(t, repair.Options{})
	f.do(http.MethodPut, "/repair-jobs/1/assignment/box", map[string]string{"box_id": "B001"})
	f.do(http.MethodPut, "/repair-jobs/1/assignment/part", map[string]string{"part_id": "P002"})
	f.fake.FailOn(http.MethodPost, "/api/repair-jobs/1/parts", http.StatusConflict)

	w := f.do(http.MethodPost, "/repair-jobs/1/assignment", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)
	e := testutil.DecodeError(t, w)
	details, ok := e.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "B001", details["box_id"])
	assert.Equal(t, "P002", details["part_id"])

	box, _ := f.ws.Stock.Box("B001")
	assert.Equal(t, 30, box.Quantity)
}

func TestExportCSV(t *testing.T) {
	f := setup(t, repair.Options{})

	w := f.do(http.MethodGet, "/repair-jobs/export?format=csv&search=john", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "repair_jobs")

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "John Doe (1234567890)", records[1][1])

	entries, err := f.audit.Recent(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionExport, entries[0].Action)
}

func TestExportFailureSendsNoAttachment(t *testing.T) {
	f := setup(t, repair.Options{})
	orig := writeExport
	t.Cleanup(func() { writeExport = orig })
	writeExport = func(w io.Writer, format, sheet string, headers []string, rows [][]string) error {
		io.WriteString(w, "ID,Cust")
		return errors.New("disk full")
	}

	w := f.do(http.MethodGet, "/repair-jobs/export?format=xlsx", nil)
	testutil.AssertStatus(t, w, http.StatusInternalServerError)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
	e := testutil.DecodeError(t, w)
	assert.Equal(t, "Export failed", e.Error)

	entries, err := f.audit.Recent(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportBadFormat(t *testing.T) {
	f := setup(t, repair.Options{})
	w := f.do(http.MethodGet, "/repair-jobs/export?format=pdf", nil)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestAuditLog(t *testing.T) {
	f := setup(t, repair.Options{})
	f.do(http.MethodPut, "/repair-jobs/1", map[string]string{"status": "Completed"})
	f.do(http.MethodPut, "/repair-jobs/2", map[string]string{"status": "In Progress"})

	w := f.do(http.MethodGet, "/audit?module=repair_job&limit=1", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var entries []models.AuditEntry
	testutil.DecodeData(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].RecordID)

	w = f.do(http.MethodGet, "/audit?limit=1000", nil)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = f.do(http.MethodGet, "/audit?limit=ten", nil)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}
