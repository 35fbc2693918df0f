package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"techclinic/internal/models"
	"techclinic/internal/validation"
)

// JobForm is the create/edit form. An empty ID creates a job.
type JobForm struct {
	ID         string `json:"id,omitempty"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
}

// Editing reports whether the form updates an existing job.
func (f JobForm) Editing() bool { return f.ID != "" }

// Validate checks required fields and normalizes the status spelling.
func (f *JobForm) Validate() *validation.ValidationErrors {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "customer_id", f.CustomerID)
	validation.RequireField(ve, "status", f.Status)
	if f.Status != "" {
		if st, ok := ParseStatus(f.Status); ok {
			f.Status = string(st)
		} else {
			validation.ValidateEnum(ve, "status", f.Status, StatusNames())
		}
	}
	validation.ValidateMaxLength(ve, "notes", f.Notes, validation.MaxNotesLength)
	return ve
}

// SaveJob validates the form and creates or updates the job. Validation
// failures return a *Rejection without any network call. On success the
// job list is re-fetched and the saved job is returned. When editing a
// cached job its customer comes from the job itself; the form's customer_id
// only counts for jobs not in the list.
func (ws *Workspace) SaveJob(ctx context.Context, form JobForm) (models.RepairJob, error) {
	if form.Editing() {
		if current, ok := ws.Jobs.Find(form.ID); ok {
			form.CustomerID = current.CustomerID
		}
	}
	if ve := form.Validate(); ve.HasErrors() {
		return models.RepairJob{}, ws.reject(ctx, ErrInvalidForm, "Please fill in all required fields", ve)
	}

	if form.Editing() {
		return ws.updateJob(ctx, form)
	}
	return ws.createJob(ctx, form)
}

func (ws *Workspace) createJob(ctx context.Context, form JobForm) (models.RepairJob, error) {
	job, err := ws.api.CreateRepairJob(ctx, models.NewRepairJob{
		CustomerID: form.CustomerID,
		Status:     form.Status,
		Notes:      form.Notes,
	})
	if err != nil {
		return models.RepairJob{}, ws.failed(ctx, err, "Failed to create job")
	}
	ws.logger.Info("repair job created", zap.String("job_id", job.ID), zap.String("status", job.Status))
	ws.notify(ctx, success("Repair job created!"))
	ws.RefreshJobs(ctx)
	if fresh, ok := ws.Jobs.Find(job.ID); ok {
		job = fresh
	}
	return job, nil
}

func (ws *Workspace) updateJob(ctx context.Context, form JobForm) (models.RepairJob, error) {
	current, known := ws.Jobs.Find(form.ID)
	if ws.opts.StrictTransitions && known {
		from, _ := ParseStatus(current.Status)
		to := Status(form.Status)
		if from != "" && !CanTransition(from, to) {
			ve := &validation.ValidationErrors{}
			ve.Add("status", fmt.Sprintf("cannot move from %s to %s", from, to))
			return models.RepairJob{}, ws.reject(ctx, ErrInvalidTransition,
				fmt.Sprintf("Cannot move job from %s to %s", from, to), ve)
		}
	}

	// The customer is fixed at creation; only status and notes go out.
	err := ws.api.UpdateRepairJobStatus(ctx, form.ID, models.StatusUpdate{
		Status: form.Status,
		Notes:  form.Notes,
	})
	if err != nil {
		return models.RepairJob{}, ws.failed(ctx, err, "Failed to update job")
	}
	ws.logger.Info("repair job updated", zap.String("job_id", form.ID), zap.String("status", form.Status))
	ws.notify(ctx, success("Repair job updated!"))
	ws.RefreshJobs(ctx)

	job, ok := ws.Jobs.Find(form.ID)
	if !ok {
		job = current
		job.ID = form.ID
		job.Status = form.Status
		job.Notes = form.Notes
	}
	ws.mu.Lock()
	if ws.detail != nil && ws.detail.job.ID == form.ID {
		ws.detail.job = job
	}
	ws.mu.Unlock()
	return job, nil
}
