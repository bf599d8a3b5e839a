package ingest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

// Queries are the read accessors of the batch sink. Each one flushes
// pending records before it reads.
type Queries interface {
	SkierDays(ctx context.Context, skierID int, seasonID string) (int, error)
	SkierVertical(ctx context.Context, skierID int, seasonID string) (map[string]int, error)
	SkierLifts(ctx context.Context, skierID int, seasonID, dayID string) ([]int, error)
	ResortSkiers(ctx context.Context, resortID int, dayID string) (int, error)
	TotalProcessed() int64
	UniqueKeys() int64
}

// Stats is the body of /api/stats.
type Stats struct {
	TotalProcessedMessages int64 `json:"totalProcessedMessages"`
	UniqueSkiers           int64 `json:"uniqueSkiers"`
}

type queryHandler struct {
	q   Queries
	log logger.Logger
}

// RegisterQueries mounts the read-only /api routes on r.
func RegisterQueries(r *mux.Router, q Queries, log logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	h := &queryHandler{q: q, log: log.WithFields(logger.Fields{"component": "query"})}
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/skiers/{skierID}/seasons/{seasonID}/days/count", h.skierDays).Methods(http.MethodGet)
	api.HandleFunc("/skiers/{skierID}/seasons/{seasonID}/vertical", h.skierVertical).Methods(http.MethodGet)
	api.HandleFunc("/skiers/{skierID}/seasons/{seasonID}/days/{dayID}/lifts", h.skierLifts).Methods(http.MethodGet)
	api.HandleFunc("/resorts/{resortID}/seasons/{seasonID}/days/{dayID}/skiers/count", h.resortSkiers).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
}

func (h *queryHandler) intVar(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message{"invalid " + name})
		return 0, false
	}
	return v, true
}

func (h *queryHandler) reply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		h.log.WithFields(logger.Fields{"error": err}).Warn("query failed")
		writeJSON(w, http.StatusInternalServerError, message{err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *queryHandler) skierDays(w http.ResponseWriter, r *http.Request) {
	skier, ok := h.intVar(w, r, "skierID")
	if !ok {
		return
	}
	n, err := h.q.SkierDays(r.Context(), skier, mux.Vars(r)["seasonID"])
	h.reply(w, n, err)
}

func (h *queryHandler) skierVertical(w http.ResponseWriter, r *http.Request) {
	skier, ok := h.intVar(w, r, "skierID")
	if !ok {
		return
	}
	totals, err := h.q.SkierVertical(r.Context(), skier, mux.Vars(r)["seasonID"])
	h.reply(w, totals, err)
}

func (h *queryHandler) skierLifts(w http.ResponseWriter, r *http.Request) {
	skier, ok := h.intVar(w, r, "skierID")
	if !ok {
		return
	}
	vars := mux.Vars(r)
	lifts, err := h.q.SkierLifts(r.Context(), skier, vars["seasonID"], vars["dayID"])
	if lifts == nil {
		lifts = []int{}
	}
	h.reply(w, lifts, err)
}

func (h *queryHandler) resortSkiers(w http.ResponseWriter, r *http.Request) {
	resort, ok := h.intVar(w, r, "resortID")
	if !ok {
		return
	}
	n, err := h.q.ResortSkiers(r.Context(), resort, mux.Vars(r)["dayID"])
	h.reply(w, n, err)
}

func (h *queryHandler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Stats{
		TotalProcessedMessages: h.q.TotalProcessed(),
		UniqueSkiers:           h.q.UniqueKeys(),
	})
}
