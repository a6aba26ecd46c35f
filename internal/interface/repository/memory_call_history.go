package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/utils"
)

// MemoryCallHistory is the append-only call ledger.
// Events are stored in insertion order and never modified.
type MemoryCallHistory struct {
	mu     sync.RWMutex
	events []entity.CallEvent
	now    func() time.Time
}

// NewMemoryCallHistory creates an empty ledger
func NewMemoryCallHistory() *MemoryCallHistory {
	return &MemoryCallHistory{now: time.Now}
}

// NewMemoryCallHistoryWithClock creates a ledger using now for window math
func NewMemoryCallHistoryWithClock(now func() time.Time) *MemoryCallHistory {
	return &MemoryCallHistory{now: now}
}

var _ repository.CallHistoryRepository = (*MemoryCallHistory)(nil)

// Append stores a copy of the event
func (h *MemoryCallHistory) Append(_ context.Context, event entity.CallEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event.Clone())
	return nil
}

// List returns every event in insertion order
func (h *MemoryCallHistory) List(_ context.Context) ([]entity.CallEvent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]entity.CallEvent, len(h.events))
	for i, e := range h.events {
		out[i] = e.Clone()
	}
	return out, nil
}

// RecentByUnit returns the unit's events called at or after since, newest first
func (h *MemoryCallHistory) RecentByUnit(_ context.Context, unit string, since time.Time) ([]entity.CallEvent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]entity.CallEvent, 0)
	for i := len(h.events) - 1; i >= 0; i-- {
		e := h.events[i]
		if e.Unit != unit || e.CalledAt.Before(since) {
			continue
		}
		out = append(out, e.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

// CountByNormalizedName groups calls inside the trailing window by normalized
// patient name. A visit is a distinct patient record.
func (h *MemoryCallHistory) CountByNormalizedName(_ context.Context, windowDays int) (map[string]entity.FrequentPatientRecord, error) {
	h.mu.RLock()
	snapshot := make([]entity.CallEvent, len(h.events))
	copy(snapshot, h.events)
	h.mu.RUnlock()

	return countVisits(snapshot, h.now().AddDate(0, 0, -windowDays)), nil
}

// countVisits is shared with the Mongo archive
func countVisits(events []entity.CallEvent, cutoff time.Time) map[string]entity.FrequentPatientRecord {
	type visits struct {
		ids  map[string]struct{}
		last time.Time
	}
	grouped := map[string]*visits{}

	for _, e := range events {
		if e.CalledAt.Before(cutoff) {
			continue
		}
		name := utils.NormalizeName(e.Patient.Name)
		if name == "" {
			continue
		}
		v, ok := grouped[name]
		if !ok {
			v = &visits{ids: map[string]struct{}{}}
			grouped[name] = v
		}
		v.ids[e.Patient.ID] = struct{}{}
		if e.CalledAt.After(v.last) {
			v.last = e.CalledAt
		}
	}

	out := make(map[string]entity.FrequentPatientRecord, len(grouped))
	for name, v := range grouped {
		out[name] = entity.FrequentPatientRecord{
			Name:      name,
			Count:     len(v.ids),
			LastVisit: v.last,
		}
	}
	return out
}

// sortNewestFirst orders by call time descending, keeping insertion order on ties
func sortNewestFirst(events []entity.CallEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CalledAt.After(events[j].CalledAt)
	})
}
