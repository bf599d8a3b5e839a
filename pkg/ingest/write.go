// Package ingest is the HTTP surface of the pipeline: the lift ride write
// endpoint that feeds the broker, and the read-only query routes served by
// the consumer.
package ingest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/siqueiraa/LiftFlow/pkg/faker"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const (
	maxBodyBytes          = 1 << 12
	defaultPublishTimeout = 2 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher hands accepted rides to the broker. *kafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, ev model.LiftRideEvent) error
}

type message struct {
	Message string `json:"message"`
}

// WriteHandler validates lift ride posts and publishes them.
type WriteHandler struct {
	pub     Publisher
	bounds  faker.Ranges
	timeout time.Duration
	log     logger.Logger
}

// NewWriteHandler accepts rides inside bounds.
func NewWriteHandler(pub Publisher, bounds faker.Ranges, timeout time.Duration, log logger.Logger) *WriteHandler {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &WriteHandler{pub: pub, bounds: bounds, timeout: timeout, log: log.WithFields(logger.Fields{"component": "ingest"})}
}

// Register mounts the write and health routes on r. Any other POST under
// /skiers/ is answered with 400.
func (h *WriteHandler) Register(r *mux.Router) {
	r.HandleFunc("/skiers/{resortID}/seasons/{seasonID}/days/{dayID}/skiers/{skierID}", h.postRide).
		Methods(http.MethodPost)
	r.PathPrefix("/skiers/").Methods(http.MethodPost).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, message{"Invalid URL path"})
	})
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.HandleFunc("/", health).Methods(http.MethodGet)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (h *WriteHandler) postRide(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.parsePath(mux.Vars(r))
	if !ok {
		h.log.WithFields(logger.Fields{"path": r.URL.Path}).Debug("invalid url path")
		writeJSON(w, http.StatusBadRequest, message{"Invalid URL path"})
		return
	}

	var ride model.LiftRide
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ride); err != nil ||
		!h.bounds.Lift.Contains(ride.LiftID) || !h.bounds.Time.Contains(ride.Time) {
		h.log.WithFields(logger.Fields{"liftID": ride.LiftID, "time": ride.Time}).Debug("invalid lift ride")
		writeJSON(w, http.StatusBadRequest, message{"Invalid request body"})
		return
	}
	ev.LiftRide = ride
	ev.EventID = uuid.NewString()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.pub.PublishEvent(ctx, ev); err != nil {
		h.log.WithFields(logger.Fields{"skierID": ev.SkierID, "error": err}).Error("publish failed")
		writeJSON(w, http.StatusInternalServerError, message{"Server error: " + err.Error()})
		return
	}
	h.log.WithFields(logger.Fields{"skierID": ev.SkierID, "resortID": ev.ResortID, "liftID": ride.LiftID}).
		Trace("lift ride accepted")
	writeJSON(w, http.StatusCreated, message{"Write successful"})
}

// parsePath checks resort and skier ranges, the season literal and the day
// number. The day keeps its original spelling.
func (h *WriteHandler) parsePath(vars map[string]string) (model.LiftRideEvent, bool) {
	var ev model.LiftRideEvent
	resort, err := strconv.Atoi(vars["resortID"])
	if err != nil || !h.bounds.Resort.Contains(resort) {
		return ev, false
	}
	if vars["seasonID"] != h.bounds.SeasonID {
		return ev, false
	}
	day, err := strconv.Atoi(vars["dayID"])
	wantDay, _ := strconv.Atoi(h.bounds.DayID)
	if err != nil || day != wantDay {
		return ev, false
	}
	skier, err := strconv.Atoi(vars["skierID"])
	if err != nil || !h.bounds.Skier.Contains(skier) {
		return ev, false
	}
	ev.ResortID = resort
	ev.SeasonID = vars["seasonID"]
	ev.DayID = vars["dayID"]
	ev.SkierID = skier
	return ev, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AccessLog logs one line per request at debug level.
func AccessLog(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			log.WithFields(logger.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
