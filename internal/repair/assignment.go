package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"techclinic/internal/models"
	"techclinic/internal/validation"
)

// AvailablePart is a part choice offered for the selected box.
type AvailablePart struct {
	PartID   string `json:"part_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// AssignmentState is the part-assignment form of the open job.
type AssignmentState struct {
	BoxID     string          `json:"box_id"`
	PartID    string          `json:"part_id"`
	Quantity  int             `json:"quantity"`
	Max       int             `json:"max"`
	Available []AvailablePart `json:"available"`
}

func (ws *Workspace) assignmentState(f assignmentForm) AssignmentState {
	st := AssignmentState{
		BoxID:     f.boxID,
		PartID:    f.partID,
		Quantity:  f.quantity,
		Available: []AvailablePart{},
	}
	if f.boxID == "" {
		return st
	}
	for _, p := range ws.Stock.Available(f.boxID) {
		name := p.Name
		if name == "" {
			name = ws.partName(p.PartID)
		}
		st.Available = append(st.Available, AvailablePart{PartID: p.PartID, Name: name, Quantity: p.Quantity})
		if p.PartID == f.partID {
			st.Max = p.Quantity
		}
	}
	return st
}

// Assignment returns the open job's assignment form.
func (ws *Workspace) Assignment(ctx context.Context) (AssignmentState, error) {
	ws.mu.Lock()
	if ws.detail == nil {
		ws.mu.Unlock()
		return AssignmentState{}, ws.reject(ctx, ErrNoJobSelected, "No job selected", nil)
	}
	f := ws.detail.form
	ws.mu.Unlock()
	return ws.assignmentState(f), nil
}

// updateForm applies fn to the open job's form.
func (ws *Workspace) updateForm(fn func(*assignmentForm)) (assignmentForm, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.detail == nil {
		return assignmentForm{}, false
	}
	fn(&ws.detail.form)
	return ws.detail.form, true
}

// SelectBox picks the box to assign from and resets the part and quantity.
// The box's parts are read from the per-box endpoint when it answers and
// from the cached box otherwise. An empty boxID clears the selection.
func (ws *Workspace) SelectBox(ctx context.Context, boxID string) (AssignmentState, error) {
	if _, open := ws.openJobID(); !open {
		return AssignmentState{}, ws.reject(ctx, ErrNoJobSelected, "No job selected", nil)
	}
	if boxID != "" {
		if _, ok := ws.Stock.Box(boxID); !ok {
			return AssignmentState{}, ws.reject(ctx, ErrUnknownBox, fmt.Sprintf("Box %s not found", boxID), nil)
		}
	}

	f, open := ws.updateForm(func(f *assignmentForm) {
		*f = newAssignmentForm()
		f.boxID = boxID
	})
	if !open {
		return AssignmentState{}, ws.reject(ctx, ErrNoJobSelected, "No job selected", nil)
	}
	if boxID == "" {
		return ws.assignmentState(f), nil
	}

	parts, err := ws.api.ListBoxParts(ctx, boxID)
	if err != nil {
		ws.logger.Debug("box parts fetch failed, using cached box", zap.String("box_id", boxID), zap.Error(err))
	} else {
		ws.Stock.ReplaceParts(boxID, parts)
	}
	return ws.assignmentState(f), nil
}

// SelectPart picks a part among the selected box's available parts. A
// quantity above the part's stock is clamped with a warning.
func (ws *Workspace) SelectPart(ctx context.Context, partID string) (AssignmentState, error) {
	ws.mu.Lock()
	if ws.detail == nil {
		ws.mu.Unlock()
		return AssignmentState{}, ws.reject(ctx, ErrNoJobSelected, "No job selected", nil)
	}
	boxID := ws.detail.form.boxID
	ws.mu.Unlock()

	if boxID == "" {
		return AssignmentState{}, ws.reject(ctx, ErrNoBoxSelected, "Select a box first", nil)
	}
	if partID == "" {
		f, _ := ws.updateForm(func(f *assignmentForm) { f.partID = "" })
		return ws.assignmentState(f), nil
	}

	max, ok := ws.available(boxID, partID)
	if !ok {
		return AssignmentState{}, ws.reject(ctx, ErrPartUnavailable,
			fmt.Sprintf("Part %s is not available in box %s", partID, boxID), nil)
	}

	f, clamped, ok := ws.pickPart(boxID, partID, max)
	if !ok {
		return AssignmentState{}, ws.reject(ctx, ErrSelectionChanged, "Box selection changed; pick the part again", nil)
	}
	if clamped {
		ws.notify(ctx, warning(fmt.Sprintf("Only %d available in this box", max)))
	}
	return ws.assignmentState(f), nil
}

// pickPart sets partID on the form if its box is still boxID, clamping the
// quantity to max.
func (ws *Workspace) pickPart(boxID, partID string, max int) (f assignmentForm, clamped, ok bool) {
	f, _ = ws.updateForm(func(f *assignmentForm) {
		if f.boxID != boxID {
			return
		}
		ok = true
		f.partID = partID
		if f.quantity > max {
			f.quantity = max
			clamped = true
		}
	})
	return f, clamped, ok
}

// SetQuantity sets the quantity to assign. Values above the selected part's
// stock are clamped with a warning; values below 1 are kept and rejected
// at submit.
func (ws *Workspace) SetQuantity(ctx context.Context, qty int) (AssignmentState, error) {
	ws.mu.Lock()
	if ws.detail == nil {
		ws.mu.Unlock()
		return AssignmentState{}, ws.reject(ctx, ErrNoJobSelected, "No job selected", nil)
	}
	boxID, partID := ws.detail.form.boxID, ws.detail.form.partID
	ws.mu.Unlock()

	if partID != "" {
		if max, ok := ws.available(boxID, partID); ok && qty > max {
			qty = max
			ws.notify(ctx, warning(fmt.Sprintf("Only %d available in this box", max)))
		}
	}
	changed := false
	f, _ := ws.updateForm(func(f *assignmentForm) {
		if f.boxID != boxID || f.partID != partID {
			changed = true
			return
		}
		f.quantity = qty
	})
	if changed {
		return AssignmentState{}, ws.reject(ctx, ErrSelectionChanged, "Selection changed; set the quantity again", nil)
	}
	return ws.assignmentState(f), nil
}

// available is the advisory stock of partID in boxID, when in stock.
func (ws *Workspace) available(boxID, partID string) (int, bool) {
	for _, p := range ws.Stock.Available(boxID) {
		if p.PartID == partID {
			return p.Quantity, true
		}
	}
	return 0, false
}

// SubmitAssignment re-validates the form against the current advisory
// stock and posts the assignment. On success the cached stock is
// decremented by the assigned quantity, the form is reset and the job's
// parts used are re-fetched. The server re-validates stock regardless.
func (ws *Workspace) SubmitAssignment(ctx context.Context) (models.PartAssignment, error) {
	ws.mu.Lock()
	if ws.detail == nil {
		ws.mu.Unlock()
		return models.PartAssignment{}, ws.reject(ctx, ErrNoJobSelected, "No job selected", nil)
	}
	jobID := ws.detail.job.ID
	f := ws.detail.form
	ws.mu.Unlock()

	a := models.PartAssignment{PartID: f.partID, BoxID: f.boxID, Quantity: f.quantity}
	if err := ws.checkAssignment(ctx, a); err != nil {
		return a, err
	}

	if err := ws.api.AssignPart(ctx, jobID, a); err != nil {
		return a, ws.failed(ctx, err, "Failed to assign part")
	}

	ws.Stock.Consume(a.BoxID, a.PartID, a.Quantity)
	ws.logger.Info("part assigned",
		zap.String("job_id", jobID),
		zap.String("box_id", a.BoxID),
		zap.String("part_id", a.PartID),
		zap.Int("quantity", a.Quantity))
	ws.notify(ctx, success("Part assigned to repair job!"))

	ws.mu.Lock()
	if ws.detail != nil && ws.detail.job.ID == jobID {
		ws.detail.form = newAssignmentForm()
	}
	ws.mu.Unlock()

	ws.refreshPartsUsed(ctx, jobID)
	if ws.opts.RefreshBoxesAfterAssign {
		ws.RefreshBoxes(ctx)
	}
	return a, nil
}

func (ws *Workspace) checkAssignment(ctx context.Context, a models.PartAssignment) error {
	ve := &validation.ValidationErrors{}
	if validation.ValidateMinInt(ve, "quantity", a.Quantity, 1); ve.HasErrors() {
		return ws.reject(ctx, ErrInvalidQuantity, "Quantity must be at least 1", ve)
	}

	validation.ValidateID(ve, "part_id", a.PartID)
	validation.ValidateID(ve, "box_id", a.BoxID)
	if ve.HasErrors() {
		reason := ErrPartUnavailable
		if ve.Has("box_id") {
			reason = ErrNoBoxSelected
		}
		return ws.reject(ctx, reason, "Part ID and Box ID must be alphanumeric", ve)
	}

	have, ok := ws.Stock.Quantity(a.BoxID, a.PartID)
	if !ok || have <= 0 {
		return ws.reject(ctx, ErrPartUnavailable,
			fmt.Sprintf("Part %s is not available in box %s", a.PartID, a.BoxID), nil)
	}
	if a.Quantity > have {
		ve := &validation.ValidationErrors{}
		ve.Add("quantity", fmt.Sprintf("must be at most %d", have))
		return ws.reject(ctx, ErrQuantityExceeded,
			fmt.Sprintf("Only %d available in this box", have), ve)
	}
	return nil
}
