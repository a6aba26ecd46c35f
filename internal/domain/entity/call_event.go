package entity

import (
	"time"
)

// CallEvent is an immutable history entry written every time a patient is called
type CallEvent struct {
	ID       string    `json:"id" bson:"_id"`
	Patient  Patient   `json:"patient" bson:"patient"`
	Stage    Stage     `json:"stage" bson:"stage"`
	Room     string    `json:"room,omitempty" bson:"room,omitempty"`
	Unit     string    `json:"unit" bson:"unit"`
	CalledAt time.Time `json:"calledAt" bson:"calledAt"`
}

// Clone copies the event including its patient snapshot
func (e CallEvent) Clone() CallEvent {
	c := e
	c.Patient = e.Patient.Clone()
	return c
}

// DefaultFrequentThreshold is the visit count at which a patient is flagged
const DefaultFrequentThreshold = 3

// FrequentPatientRecord is derived from call history, never stored
type FrequentPatientRecord struct {
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	LastVisit time.Time `json:"lastVisit"`
}

// IsFrequent reports whether the visit count meets the threshold
func (r FrequentPatientRecord) IsFrequent(threshold int) bool {
	return r.Count >= threshold
}

// ChangeOp is the kind of change seen on the realtime feed
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// ChangeNotification tells observers that a patient record changed
type ChangeNotification struct {
	PatientID string    `json:"patientId"`
	Op        ChangeOp  `json:"op"`
	At        time.Time `json:"at"`
}

