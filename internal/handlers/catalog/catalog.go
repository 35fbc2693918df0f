package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"techclinic/internal/apiclient"
	"techclinic/internal/models"
	"techclinic/internal/repair"
	"techclinic/internal/response"
	"techclinic/internal/validation"
)

// Handler serves the read-only lookups behind the repair desk: customers,
// parts, boxes, low-stock alerts and the dashboard counters.
type Handler struct {
	Logger *zap.Logger

	// Client returns the API client bound to the request's session.
	Client func(r *http.Request) *apiclient.Client

	// Workspace returns the request session's workspace.
	Workspace func(r *http.Request) *repair.Workspace
}

func (h *Handler) fail(w http.ResponseWriter, err error, fallback string, notices []models.Notice) {
	h.Logger.Warn(fallback, zap.Error(err))
	response.Err(w, apiclient.Message(err, fallback), apiclient.StatusCode(err), notices...)
}

// Dashboard fetches the accessory, box and part counts in parallel.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	client := h.Client(r)
	var counts models.DashboardCounts
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { counts.Accessories, err = client.Count(ctx, "accessories"); return })
	g.Go(func() (err error) { counts.Boxes, err = client.Count(ctx, "boxes"); return })
	g.Go(func() (err error) { counts.Parts, err = client.Count(ctx, "parts"); return })
	if err := g.Wait(); err != nil {
		h.fail(w, err, "Failed to fetch counts", nil)
		return
	}
	response.JSON(w, counts)
}

// Customers re-fetches the customer directory. With sample fallback on, a
// failed fetch answers with the sample customers and meta.sample set.
func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	rec := &repair.Recorder{}
	ctx := repair.WithNotifier(r.Context(), rec)
	ws := h.Workspace(r)
	if err := ws.RefreshCustomers(ctx); err != nil {
		h.fail(w, err, "Failed to fetch customers", rec.Notices())
		return
	}
	customers := ws.Customers.Customers()
	response.JSONMeta(w, customers, models.Meta{Total: len(customers), Sample: ws.Customers.Sample()}, rec.Notices()...)
}

func (h *Handler) Parts(w http.ResponseWriter, r *http.Request) {
	rec := &repair.Recorder{}
	ctx := repair.WithNotifier(r.Context(), rec)
	ws := h.Workspace(r)
	if err := ws.RefreshParts(ctx); err != nil {
		h.fail(w, err, "Failed to fetch parts", rec.Notices())
		return
	}
	parts := ws.Parts()
	response.JSONMeta(w, parts, models.Meta{Total: len(parts)})
}

// Boxes re-fetches boxes, which also resets the session's advisory stock
// to the server's figures.
func (h *Handler) Boxes(w http.ResponseWriter, r *http.Request) {
	rec := &repair.Recorder{}
	ctx := repair.WithNotifier(r.Context(), rec)
	ws := h.Workspace(r)
	if err := ws.RefreshBoxes(ctx); err != nil {
		h.fail(w, err, "Failed to fetch boxes", rec.Notices())
		return
	}
	boxes := ws.Stock.Boxes()
	response.JSONMeta(w, boxes, models.Meta{Total: len(boxes)})
}

func (h *Handler) BoxParts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ve := &validation.ValidationErrors{}
	validation.ValidateID(ve, "id", id)
	if ve.HasErrors() {
		response.ErrDetails(w, "Invalid box id", http.StatusBadRequest, ve)
		return
	}
	parts, err := h.Client(r).ListBoxParts(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Failed to fetch box parts", nil)
		return
	}
	response.JSONMeta(w, parts, models.Meta{Total: len(parts)})
}

func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Client(r).ListBoxAlerts(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to fetch alerts", nil)
		return
	}
	response.JSONMeta(w, alerts, models.Meta{Total: len(alerts)})
}
