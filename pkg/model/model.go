package model

import (
	"fmt"
	"strconv"
	"time"
)

const (
	verticalPerLift = 10 // vertical metres credited per lift id
)

// LiftRide is the request body of the write endpoint.
type LiftRide struct {
	Time   int `json:"time" avro:"time"`
	LiftID int `json:"liftID" avro:"liftID"`
}

// LiftRideEvent is the work item flowing through both pipelines. It is
// created by the generator (client side) or decoded from the broker
// (consumer side) and handed to exactly one worker.
type LiftRideEvent struct {
	EventID  string   `json:"eventID" avro:"eventID"`
	LiftRide LiftRide `json:"liftRide" avro:"liftRide"`
	ResortID int      `json:"resortID" avro:"resortID"`
	SeasonID string   `json:"seasonID" avro:"seasonID"`
	DayID    string   `json:"dayID" avro:"dayID"`
	SkierID  int      `json:"skierID" avro:"skierID"`
}

func (e LiftRideEvent) String() string {
	return fmt.Sprintf("LiftRideEvent{skier=%d resort=%d season=%s day=%s lift=%d time=%d}",
		e.SkierID, e.ResortID, e.SeasonID, e.DayID, e.LiftRide.LiftID, e.LiftRide.Time)
}

// Record is one persisted row, keyed by skier and ordered by timestamp#liftID.
type Record struct {
	SkierID         int    `json:"skierID"`
	TimestampLiftID string `json:"timestampLiftID"`
	ResortID        int    `json:"resortID"`
	SeasonID        string `json:"seasonID"`
	DayID           string `json:"dayID"`
	LiftID          int    `json:"liftID"`
	Time            int    `json:"time"`
	Vertical        int    `json:"vertical"`
	Timestamp       string `json:"timestamp"`
	ResortDay       string `json:"resortDay"`
}

// UniqueKey identifies the entity counted by the uniqueness index (the skier).
func (r Record) UniqueKey() string {
	return strconv.Itoa(r.SkierID)
}

// NewRecord derives the persisted row for an event observed at ts.
func NewRecord(ev LiftRideEvent, ts time.Time) Record {
	stamp := ts.UTC().Format("2006-01-02T15:04:05.000000000")
	return Record{
		SkierID:         ev.SkierID,
		TimestampLiftID: stamp + "#" + strconv.Itoa(ev.LiftRide.LiftID),
		ResortID:        ev.ResortID,
		SeasonID:        ev.SeasonID,
		DayID:           ev.DayID,
		LiftID:          ev.LiftRide.LiftID,
		Time:            ev.LiftRide.Time,
		Vertical:        ev.LiftRide.LiftID * verticalPerLift,
		Timestamp:       stamp,
		ResortDay:       ResortDay(ev.ResortID, ev.DayID),
	}
}

// ResortDay builds the resort/day index key.
func ResortDay(resortID int, dayID string) string {
	return strconv.Itoa(resortID) + "#" + dayID
}
