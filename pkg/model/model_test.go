package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRecord(t *testing.T) {
	ev := LiftRideEvent{
		EventID:  "e1",
		LiftRide: LiftRide{Time: 217, LiftID: 21},
		ResortID: 3,
		SeasonID: "2025",
		DayID:    "1",
		SkierID:  42,
	}
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)

	rec := NewRecord(ev, ts)

	assert.Equal(t, 42, rec.SkierID)
	assert.Equal(t, 210, rec.Vertical)
	assert.Equal(t, "3#1", rec.ResortDay)
	assert.Equal(t, 21, rec.LiftID)
	assert.Equal(t, 217, rec.Time)
	assert.True(t, strings.HasSuffix(rec.TimestampLiftID, "#21"), rec.TimestampLiftID)
	assert.True(t, strings.HasPrefix(rec.TimestampLiftID, rec.Timestamp))
	assert.Equal(t, "42", rec.UniqueKey())
}

func TestRecordTimestampsSortChronologically(t *testing.T) {
	ev := LiftRideEvent{LiftRide: LiftRide{LiftID: 5}, SkierID: 1}
	early := NewRecord(ev, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	late := NewRecord(ev, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))

	assert.Less(t, early.TimestampLiftID, late.TimestampLiftID)
}
