package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vaxledger/internal/schedule"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/httputil"
)

type Catalog interface {
	Entries() ([]schedule.Entry, error)
	ByVaccine(name string) ([]schedule.Entry, error)
	Search(substr string) ([]schedule.Entry, error)
	UpToAge(months int) ([]schedule.Entry, error)
	Buckets() ([]string, error)
}

type Handler struct {
	catalog Catalog
}

func New(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/schedule", h.HandleList)
	r.Get("/schedule/buckets", h.HandleBuckets)
}

// HandleList filters by exactly one of vaccine, q (substring) or
// max_age_months, in that order of precedence. No filter lists everything.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		entries []schedule.Entry
		err     error
	)
	switch {
	case q.Get("vaccine") != "":
		entries, err = h.catalog.ByVaccine(q.Get("vaccine"))
	case q.Get("q") != "":
		entries, err = h.catalog.Search(q.Get("q"))
	case q.Get("max_age_months") != "":
		months, convErr := strconv.Atoi(q.Get("max_age_months"))
		if convErr != nil || months < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "max_age_months must be a non-negative integer"))
			return
		}
		entries, err = h.catalog.UpToAge(months)
	default:
		entries, err = h.catalog.Entries()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []schedule.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleBuckets(w http.ResponseWriter, _ *http.Request) {
	buckets, err := h.catalog.Buckets()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, buckets)
}
