package entity

import (
	"time"
)

// Priority is the triage priority of a patient
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityPriority  Priority = "priority"
	PriorityEmergency Priority = "emergency"
)

// Rank orders priorities, higher is called first
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 2
	case PriorityPriority:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityPriority, PriorityEmergency:
		return true
	}
	return false
}

// Patient represents a patient moving through the care pathway
type Patient struct {
	ID           string     `json:"id" bson:"_id"`
	Name         string     `json:"name" bson:"name"`
	Ticket       string     `json:"ticket" bson:"ticket"`
	Priority     Priority   `json:"priority" bson:"priority"`
	Status       Status     `json:"status" bson:"status"`
	Unit         string     `json:"unit" bson:"unit"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt" bson:"updatedAt"`
	CalledAt     *time.Time `json:"calledAt,omitempty" bson:"calledAt,omitempty"`
	CalledBy     *Stage     `json:"calledBy,omitempty" bson:"calledBy,omitempty"`
	Destination  string     `json:"destination,omitempty" bson:"destination,omitempty"`
	Observations string     `json:"observations,omitempty" bson:"observations,omitempty"`
	Misses       int        `json:"misses" bson:"misses"`
}

// Clone returns a deep copy so that pointer fields are never shared
func (p Patient) Clone() Patient {
	c := p
	if p.CalledAt != nil {
		t := *p.CalledAt
		c.CalledAt = &t
	}
	if p.CalledBy != nil {
		s := *p.CalledBy
		c.CalledBy = &s
	}
	return c
}

// HasBeenCalled reports whether the patient carries a prior call
func (p Patient) HasBeenCalled() bool {
	return p.CalledAt != nil && p.CalledBy != nil
}

// MarkCalled sets calledAt and calledBy together
func (p *Patient) MarkCalled(stage Stage, at time.Time) {
	t := at
	s := stage
	p.CalledAt = &t
	p.CalledBy = &s
}

// NewPatient holds the reception data used to register a patient
type NewPatient struct {
	Name         string   `json:"name"`
	Ticket       string   `json:"ticket"`
	Priority     Priority `json:"priority"`
	Observations string   `json:"observations,omitempty"`
}

// PatientView is a read-only patient enriched with advisory metadata
type PatientView struct {
	Patient
	Frequent *FrequentPatientRecord `json:"frequent,omitempty"`
}
