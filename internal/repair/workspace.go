package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"techclinic/internal/apiclient"
	"techclinic/internal/models"
	"techclinic/internal/validation"
)

// API is the slice of the remote TechClinic API the workflow depends on.
type API interface {
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	ListParts(ctx context.Context) ([]models.Part, error)
	ListBoxes(ctx context.Context) ([]models.Box, error)
	ListBoxParts(ctx context.Context, boxID string) ([]models.BoxPart, error)
	ListRepairJobs(ctx context.Context) ([]models.RepairJob, error)
	CreateRepairJob(ctx context.Context, job models.NewRepairJob) (models.RepairJob, error)
	UpdateRepairJobStatus(ctx context.Context, id string, u models.StatusUpdate) error
	ListPartsUsed(ctx context.Context, jobID string) ([]models.PartUsage, error)
	AssignPart(ctx context.Context, jobID string, a models.PartAssignment) error
}

var _ API = (*apiclient.Client)(nil)

// Workflow rejections. They are returned wrapped in a *Rejection.
var (
	ErrNoJobSelected     = errors.New("no job selected")
	ErrUnknownJob        = errors.New("unknown repair job")
	ErrUnknownBox        = errors.New("unknown box")
	ErrNoBoxSelected     = errors.New("no box selected")
	ErrPartUnavailable   = errors.New("part not available in box")
	ErrQuantityExceeded  = errors.New("quantity exceeds available stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrInvalidForm       = errors.New("invalid form")
	ErrSelectionChanged  = errors.New("assignment selection changed")
)

// Rejection is a local validation failure. No request reached the server.
type Rejection struct {
	Reason  error
	Message string
	Fields  *validation.ValidationErrors
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Reason }

// Options toggles workflow behavior.
type Options struct {
	SampleFallback          bool
	StrictTransitions       bool
	RefreshBoxesAfterAssign bool
}

// Workspace is one staff session's view of the repair desk: the job store,
// lookups, advisory stock and the open job detail. Its mutex is never held
// across network calls, so concurrent submits are not serialized.
type Workspace struct {
	api      API
	opts     Options
	notifier Notifier
	logger   *zap.Logger

	Jobs      JobStore
	Customers CustomerDirectory
	Stock     AdvisoryStock

	mu     sync.Mutex
	parts  []models.Part
	detail *jobDetail
}

// NewWorkspace creates an empty workspace. notifier may be nil.
func NewWorkspace(api API, opts Options, notifier Notifier, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{api: api, opts: opts, notifier: notifier, logger: logger}
}

func (ws *Workspace) notify(ctx context.Context, n Notice) {
	if ws.notifier != nil {
		ws.notifier.Notify(n)
	}
	if rn := notifierFrom(ctx); rn != nil {
		rn.Notify(n)
	}
}

func (ws *Workspace) reject(ctx context.Context, reason error, msg string, fields *validation.ValidationErrors) error {
	ws.notify(ctx, failure(msg))
	return &Rejection{Reason: reason, Message: msg, Fields: fields}
}

// failed reports a remote failure, preferring the server's own message.
func (ws *Workspace) failed(ctx context.Context, err error, fallback string) error {
	ws.logger.Warn(fallback, zap.Error(err))
	ws.notify(ctx, failure(apiclient.Message(err, fallback)))
	return err
}

// Load fetches customers, jobs, boxes and parts in parallel. Failures are
// reported as notices; the returned error joins those not masked by the
// sample fallback.
func (ws *Workspace) Load(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	keep := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	g.Go(func() error { keep(ws.RefreshCustomers(ctx)); return nil })
	g.Go(func() error { keep(ws.RefreshJobs(ctx)); return nil })
	g.Go(func() error { keep(ws.RefreshBoxes(ctx)); return nil })
	g.Go(func() error { keep(ws.RefreshParts(ctx)); return nil })
	g.Wait()
	return errors.Join(errs...)
}

// EnsureLoaded runs Load the first time it is called.
func (ws *Workspace) EnsureLoaded(ctx context.Context) error {
	if ws.Jobs.Loaded() {
		return nil
	}
	return ws.Load(ctx)
}

// RefreshJobs re-fetches the job list. When the fetch fails and sample
// fallback is on, the sample jobs are shown with a warning and nil is
// returned.
func (ws *Workspace) RefreshJobs(ctx context.Context) error {
	usedSample, err := ws.Jobs.Refresh(ctx, ws.api, ws.opts.SampleFallback)
	if err == nil {
		return nil
	}
	if usedSample {
		ws.logger.Warn("repair jobs fetch failed, showing sample data", zap.Error(err))
		ws.notify(ctx, warning("Failed to fetch repair jobs. Using fallback data."))
		return nil
	}
	return ws.failed(ctx, err, "Failed to fetch repair jobs")
}

// RefreshCustomers re-fetches the customer directory, with the same
// fallback rule as RefreshJobs.
func (ws *Workspace) RefreshCustomers(ctx context.Context) error {
	usedSample, err := ws.Customers.Refresh(ctx, ws.api, ws.opts.SampleFallback)
	if err == nil {
		return nil
	}
	if usedSample {
		ws.logger.Warn("customers fetch failed, showing sample data", zap.Error(err))
		ws.notify(ctx, warning("Failed to fetch customers. Using fallback data."))
		return nil
	}
	return ws.failed(ctx, err, "Failed to fetch customers")
}

// RefreshBoxes reloads the advisory stock from the server.
func (ws *Workspace) RefreshBoxes(ctx context.Context) error {
	boxes, err := ws.api.ListBoxes(ctx)
	if err != nil {
		return ws.failed(ctx, err, "Failed to fetch boxes")
	}
	ws.Stock.Load(boxes)
	return nil
}

// RefreshParts reloads the part catalog.
func (ws *Workspace) RefreshParts(ctx context.Context) error {
	parts, err := ws.api.ListParts(ctx)
	if err != nil {
		return ws.failed(ctx, err, "Failed to fetch parts")
	}
	ws.mu.Lock()
	ws.parts = parts
	ws.mu.Unlock()
	return nil
}

// Parts returns the part catalog.
func (ws *Workspace) Parts() []models.Part {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]models.Part(nil), ws.parts...)
}

func (ws *Workspace) partName(id string) string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, p := range ws.parts {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

// ListJobs returns the cached jobs matching search, decorated for display,
// and whether they are the sample dataset.
func (ws *Workspace) ListJobs(search string) ([]JobView, bool) {
	customers := ws.Customers.Customers()
	jobs := FilterJobs(ws.Jobs.Jobs(), customers, search)
	return Decorate(jobs, customers), ws.Jobs.Sample()
}

// jobDetail is the open job and its part-assignment form.
type jobDetail struct {
	job       models.RepairJob
	partsUsed []models.PartUsage
	form      assignmentForm
}

type assignmentForm struct {
	boxID    string
	partID   string
	quantity int
}

func newAssignmentForm() assignmentForm { return assignmentForm{quantity: 1} }

// Detail is a snapshot of the open job.
type Detail struct {
	Job          models.RepairJob   `json:"job"`
	CustomerName string             `json:"customer_name"`
	Category     Category           `json:"category"`
	PartsUsed    []models.PartUsage `json:"parts_used"`
	Assignment   AssignmentState    `json:"assignment"`
}

// SelectJob opens the detail for a job, resets its assignment form and
// fetches the parts it has used.
func (ws *Workspace) SelectJob(ctx context.Context, jobID string) (Detail, error) {
	job, ok := ws.Jobs.Find(jobID)
	if !ok {
		return Detail{}, ws.reject(ctx, ErrUnknownJob, fmt.Sprintf("Repair job %s not found", jobID), nil)
	}
	ws.mu.Lock()
	ws.detail = &jobDetail{job: job, form: newAssignmentForm()}
	ws.mu.Unlock()

	ws.refreshPartsUsed(ctx, jobID)
	d, _ := ws.Detail()
	return d, nil
}

// Focus opens jobID unless it is already the open job.
func (ws *Workspace) Focus(ctx context.Context, jobID string) (Detail, error) {
	if d, ok := ws.Detail(); ok && d.Job.ID == jobID {
		return d, nil
	}
	return ws.SelectJob(ctx, jobID)
}

// CloseJob closes the open detail.
func (ws *Workspace) CloseJob() {
	ws.mu.Lock()
	ws.detail = nil
	ws.mu.Unlock()
}

// Detail returns a snapshot of the open job, if any.
func (ws *Workspace) Detail() (Detail, bool) {
	ws.mu.Lock()
	if ws.detail == nil {
		ws.mu.Unlock()
		return Detail{}, false
	}
	job := ws.detail.job
	used := append([]models.PartUsage{}, ws.detail.partsUsed...)
	form := ws.detail.form
	ws.mu.Unlock()

	return Detail{
		Job:          job,
		CustomerName: CustomerLabel(ws.Customers.Customers(), job.CustomerID),
		Category:     CategoryOf(job.Status),
		PartsUsed:    used,
		Assignment:   ws.assignmentState(form),
	}, true
}

func (ws *Workspace) refreshPartsUsed(ctx context.Context, jobID string) {
	used, err := ws.api.ListPartsUsed(ctx, jobID)
	if err != nil {
		ws.failed(ctx, err, "Failed to fetch parts used")
		used = []models.PartUsage{}
	}
	ws.mu.Lock()
	if ws.detail != nil && ws.detail.job.ID == jobID {
		ws.detail.partsUsed = used
	}
	ws.mu.Unlock()
}

// openJobID returns the open job's id.
func (ws *Workspace) openJobID() (string, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.detail == nil {
		return "", false
	}
	return ws.detail.job.ID, true
}
