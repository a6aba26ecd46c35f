package usecase

import (
	"context"
	"sync"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
	"patient-call-service/pkg/metrics"
)

const latestCapacity = 20

// Announcer produces the announcement of a call
type Announcer interface {
	Announce(ctx context.Context, patient entity.Patient, stage entity.Stage, room string) entity.AnnouncementResult
}

type inflightAnnouncement struct {
	seq    uint64
	cancel context.CancelFunc
}

// AnnouncementDispatcher runs announcements off the transition path. A newer
// request for a patient cancels the older one, and only the newest result
// reaches the display.
type AnnouncementDispatcher struct {
	announcer Announcer
	publisher repository.DisplayPublisher
	logger    logger.Logger
	metrics   *metrics.Metrics

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	seq      uint64
	closed   bool
	inflight map[string]inflightAnnouncement
	latest   []entity.AnnouncementResult
}

// NewAnnouncementDispatcher creates a dispatcher running at most maxConcurrent
// announcements at once. publisher may be nil.
func NewAnnouncementDispatcher(announcer Announcer, publisher repository.DisplayPublisher, maxConcurrent int, logger logger.Logger, metrics *metrics.Metrics) *AnnouncementDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AnnouncementDispatcher{
		announcer: announcer,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		sem:       make(chan struct{}, maxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
		inflight:  map[string]inflightAnnouncement{},
	}
}

// Submit schedules an announcement and returns immediately
func (d *AnnouncementDispatcher) Submit(req entity.AnnouncementRequest) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher closed, dropping announcement", "patientId", req.Patient.ID)
		return
	}

	id := req.Patient.ID
	if prev, ok := d.inflight[id]; ok {
		prev.cancel()
		d.metrics.Superseded.Inc()
	}
	d.seq++
	seq := d.seq
	ctx, cancel := context.WithCancel(d.ctx)
	d.inflight[id] = inflightAnnouncement{seq: seq, cancel: cancel}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(ctx, seq, req)
}

func (d *AnnouncementDispatcher) run(ctx context.Context, seq uint64, req entity.AnnouncementRequest) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.finish(seq, req.Patient.ID)
		return
	}
	result := d.announcer.Announce(ctx, req.Patient, req.Stage, req.Room)
	<-d.sem

	result.Recall = req.Recall
	if !d.finish(seq, req.Patient.ID) {
		d.logger.Debug("Announcement superseded", "patientId", req.Patient.ID, "seq", seq)
		return
	}

	d.mu.Lock()
	d.latest = append([]entity.AnnouncementResult{result}, d.latest...)
	if len(d.latest) > latestCapacity {
		d.latest = d.latest[:latestCapacity]
	}
	d.mu.Unlock()

	d.publish(result)
}

// finish clears the in-flight entry and reports whether seq was still the
// newest request of the patient
func (d *AnnouncementDispatcher) finish(seq uint64, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.inflight[id]
	if !ok || cur.seq != seq {
		return false
	}
	delete(d.inflight, id)
	cur.cancel()
	return true
}

func (d *AnnouncementDispatcher) publish(result entity.AnnouncementResult) {
	if d.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.publisher.Publish(ctx, result); err != nil {
		d.logger.Error("Failed to publish announcement", "patientId", result.PatientID, "error", err)
	}
}

// Latest returns the most recent announcements, newest first
func (d *AnnouncementDispatcher) Latest() []entity.AnnouncementResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]entity.AnnouncementResult, len(d.latest))
	copy(out, d.latest)
	return out
}

// Close stops accepting requests and waits for in-flight announcements
func (d *AnnouncementDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}
