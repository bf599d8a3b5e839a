package downstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/LiftFlow/pkg/model"
	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
)

func ride() model.LiftRideEvent {
	return model.LiftRideEvent{
		LiftRide: model.LiftRide{Time: 217, LiftID: 21},
		ResortID: 7,
		SeasonID: "2025",
		DayID:    "1",
		SkierID:  90210,
	}
}

func TestRidePath(t *testing.T) {
	assert.Equal(t, "/skiers/7/seasons/2025/days/1/skiers/90210", RidePath(ride()))
}

func TestHandleRequestShape(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, c.Handle(context.Background(), ride()))

	assert.Equal(t, "/skiers/7/seasons/2025/days/1/skiers/90210", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"time":217,"liftID":21}`, gotBody)
}

func TestHandleClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  pipeline.Class
	}{
		{"created", http.StatusCreated, pipeline.ClassNone},
		{"ok", http.StatusOK, pipeline.ClassNone},
		{"bad request", http.StatusBadRequest, pipeline.ClassPermanent},
		{"not found", http.StatusNotFound, pipeline.ClassPermanent},
		{"server error", http.StatusInternalServerError, pipeline.ClassRetryable},
		{"unavailable", http.StatusServiceUnavailable, pipeline.ClassRetryable},
		{"redirect", http.StatusNotModified, pipeline.ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("invalid skier"))
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL, time.Second, nil)
			require.NoError(t, err)
			err = c.Handle(context.Background(), ride())
			assert.Equal(t, tt.class, pipeline.Classify(err))

			var rejection *pipeline.PermanentRejection
			if errors.As(err, &rejection) {
				assert.Equal(t, tt.status, rejection.Status)
				assert.Equal(t, "invalid skier", rejection.Message)
			}
		})
	}
}

func TestHandleConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, time.Second, nil)
	require.NoError(t, err)
	err = c.Handle(context.Background(), ride())

	var conn *pipeline.ConnectivityError
	assert.ErrorAs(t, err, &conn)
	assert.True(t, pipeline.BreakerEligible(err))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("localhost", time.Second, nil)
	assert.Error(t, err)
	_, err = NewClient("://", time.Second, nil)
	assert.Error(t, err)
}

func TestConnector(t *testing.T) {
	var pings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			pings.Add(1)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	connect := Connector(srv.URL, time.Second, 4)
	h, err := connect(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), ride()))
	assert.Equal(t, int32(1), pings.Load())

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()
	_, err = Connector(downURL, time.Second, 4)(context.Background(), 3)
	assert.Error(t, err)
}
