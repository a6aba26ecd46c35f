package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
	"patient-call-service/pkg/utils"
)

// FrequentPatientTracker keeps a snapshot of visit counts per normalized
// name. The data is advisory and never affects ordering or transitions.
type FrequentPatientTracker struct {
	history    repository.CallHistoryRepository
	windowDays int
	threshold  int
	logger     logger.Logger

	mu       sync.RWMutex
	snapshot map[string]entity.FrequentPatientRecord
}

// NewFrequentPatientTracker creates a tracker over the call history
func NewFrequentPatientTracker(history repository.CallHistoryRepository, windowDays, threshold int, logger logger.Logger) *FrequentPatientTracker {
	if threshold <= 0 {
		threshold = entity.DefaultFrequentThreshold
	}
	return &FrequentPatientTracker{
		history:    history,
		windowDays: windowDays,
		threshold:  threshold,
		logger:     logger,
		snapshot:   map[string]entity.FrequentPatientRecord{},
	}
}

// Refresh rebuilds the snapshot. On failure the previous snapshot is kept.
func (t *FrequentPatientTracker) Refresh(ctx context.Context) error {
	counts, err := t.history.CountByNormalizedName(ctx, t.windowDays)
	if err != nil {
		return fmt.Errorf("failed to count visits: %w", err)
	}

	t.mu.Lock()
	t.snapshot = counts
	t.mu.Unlock()

	t.logger.Debug("Frequent patient snapshot refreshed", "names", len(counts))
	return nil
}

// Lookup returns the record of a name when it reaches the threshold
func (t *FrequentPatientTracker) Lookup(name string) (entity.FrequentPatientRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.snapshot[utils.NormalizeName(name)]
	if !ok || !rec.IsFrequent(t.threshold) {
		return entity.FrequentPatientRecord{}, false
	}
	return rec, true
}

// Annotate wraps patients into views carrying the frequent flag
func (t *FrequentPatientTracker) Annotate(patients []entity.Patient) []entity.PatientView {
	views := make([]entity.PatientView, len(patients))
	for i, p := range patients {
		views[i] = entity.PatientView{Patient: p.Clone()}
		if rec, ok := t.Lookup(p.Name); ok {
			r := rec
			views[i].Frequent = &r
		}
	}
	return views
}

// Frequent lists every record at or above the threshold
func (t *FrequentPatientTracker) Frequent() []entity.FrequentPatientRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]entity.FrequentPatientRecord, 0)
	for _, rec := range t.snapshot {
		if rec.IsFrequent(t.threshold) {
			out = append(out, rec)
		}
	}
	sortFrequent(out)
	return out
}

// sortFrequent orders by count desc then name
func sortFrequent(records []entity.FrequentPatientRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].Name < records[j].Name
	})
}
