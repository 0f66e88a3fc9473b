package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/observability"
)

// Handlers serves the gym-scoped audit read endpoints.
type Handlers struct {
	store     Store
	logger    *observability.Logger
	exportMax int
}

// NewHandlers creates audit handlers. exportMax <= 0 uses DefaultExportMaxRows.
func NewHandlers(store Store, logger *observability.Logger, exportMax int) *Handlers {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	if exportMax <= 0 {
		exportMax = DefaultExportMaxRows
	}
	return &Handlers{store: store, logger: logger.WithField("component", "audit"), exportMax: exportMax}
}

// List handles GET /gyms/{gymId}/audit
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	gymID := httputil.PathVar(r, "gymId")
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}

	page, err := h.store.Query(r.Context(), gymID, f)
	if err != nil {
		h.fail(w, r, err, "Failed to query audit logs")
		return
	}
	_ = httputil.WriteSuccess(w, page)
}

// Actions handles GET /gyms/{gymId}/audit/actions
func (h *Handlers) Actions(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.ActionCounts(r.Context(), httputil.PathVar(r, "gymId"))
	if err != nil {
		h.fail(w, r, err, "Failed to count audit actions")
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"actions": counts})
}

// Entities handles GET /gyms/{gymId}/audit/entities
func (h *Handlers) Entities(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.EntityTypeCounts(r.Context(), httputil.PathVar(r, "gymId"))
	if err != nil {
		h.fail(w, r, err, "Failed to count audit entity types")
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"entities": counts})
}

// Activity handles GET /gyms/{gymId}/activity
func (h *Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultRecentLimit)
	if err != nil {
		limit = DefaultRecentLimit
	}

	entries, err := h.store.Recent(r.Context(), httputil.PathVar(r, "gymId"), limit)
	if err != nil {
		h.fail(w, r, err, "Failed to load gym activity")
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"activity": entries})
}

// Export handles GET /gyms/{gymId}/audit/export. The body is streamed, so a
// failure after the first row can only be logged.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	gymID := httputil.PathVar(r, "gymId")
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if _, err := f.Normalize(); err != nil {
		httputil.WriteBadRequest(w, "fromDate must not be after toDate")
		return
	}

	filename := fmt.Sprintf("audit-%s-%s.%s", gymID, time.Now().UTC().Format("20060102"), format)
	out := NewEntryWriter(format, w)

	started := false
	err = Walk(r.Context(), h.store, gymID, f, h.exportMax, func(e Entry) error {
		if !started {
			started = true
			exportHeaders(w, format, filename)
		}
		return out.Write(e)
	})
	if err != nil && !started {
		h.fail(w, r, err, "Failed to export audit logs")
		return
	}
	if err == nil {
		if !started {
			exportHeaders(w, format, filename)
		}
		err = out.Close()
	}
	if err != nil {
		h.logger.WithError(err).WithField("gym_id", gymID).Error("Audit export failed")
	}
}

func exportHeaders(w http.ResponseWriter, format ExportFormat, filename string) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// fail maps store errors to responses. Query failures are reported with a
// generic message and the cause is logged.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidFilter):
		httputil.WriteBadRequest(w, "fromDate must not be after toDate")
	case errors.Is(err, ErrGymRequired):
		httputil.WriteBadRequest(w, "gym id is required")
	default:
		h.logger.WithError(err).WithField("gym_id", httputil.PathVar(r, "gymId")).Error(msg)
		httputil.WriteInternalError(w)
	}
}

// parseFilter reads the list query parameters. Invalid page or limit values
// fall back to defaults; invalid dates are rejected with 400.
func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	f := Filter{
		Action:      Action(httputil.ParseQueryString(r, "action", "")),
		EntityType:  EntityType(httputil.ParseQueryString(r, "entityType", "")),
		EntityID:    httputil.ParseQueryString(r, "entityId", ""),
		ActorUserID: httputil.ParseQueryString(r, "actorUserId", ""),
	}

	var err error
	if f.Page, err = httputil.ParseQueryInt(r, "page", DefaultPage); err != nil {
		f.Page = DefaultPage
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultLimit); err != nil {
		f.Limit = DefaultLimit
	}

	if f.FromDate, err = httputil.ParseQueryTime(r, "fromDate", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return f, false
	}
	if f.ToDate, err = httputil.ParseQueryTime(r, "toDate", true); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return f, false
	}
	return f, true
}
