package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
	"patient-call-service/pkg/metrics"

	"github.com/google/uuid"
)

// AnnouncementSink receives announcement requests. Submit must not block.
type AnnouncementSink interface {
	Submit(req entity.AnnouncementRequest)
}

// CallStateMachine is the only writer of patient status. Transitions are
// serialized and either fully applied or fully rejected.
type CallStateMachine struct {
	mu sync.Mutex

	store   repository.PatientStore
	ledger  repository.CallHistoryRepository
	sink    AnnouncementSink
	unit    string
	logger  logger.Logger
	metrics *metrics.Metrics

	// optional collaborators
	persistence repository.PatientRepository
	archive     repository.CallHistoryRepository
	feed        repository.ChangeFeed

	now       func() time.Time
	newID     func() string
	ticketSeq map[entity.Priority]int
}

// NewCallStateMachine creates a state machine working on an in-memory store
func NewCallStateMachine(
	store repository.PatientStore,
	ledger repository.CallHistoryRepository,
	sink AnnouncementSink,
	unit string,
	logger logger.Logger,
	metrics *metrics.Metrics,
) *CallStateMachine {
	return &CallStateMachine{
		store:     store,
		ledger:    ledger,
		sink:      sink,
		unit:      unit,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		newID:     uuid.NewString,
		ticketSeq: map[entity.Priority]int{},
	}
}

// WithPersistence makes every transition durable before it is committed in memory
func (m *CallStateMachine) WithPersistence(patients repository.PatientRepository, archive repository.CallHistoryRepository) *CallStateMachine {
	m.persistence = patients
	m.archive = archive
	return m
}

// WithChangeFeed publishes a notification for observers after each commit
func (m *CallStateMachine) WithChangeFeed(feed repository.ChangeFeed) *CallStateMachine {
	m.feed = feed
	return m
}

// WithClock overrides the time source
func (m *CallStateMachine) WithClock(now func() time.Time) *CallStateMachine {
	m.now = now
	return m
}

// Register admits a patient at reception in the waiting status
func (m *CallStateMachine) Register(ctx context.Context, np entity.NewPatient) (entity.Patient, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return entity.Patient{}, fmt.Errorf("name is required: %w", entity.ErrInvalidPatient)
	}
	priority := np.Priority
	if priority == "" {
		priority = entity.PriorityNormal
	}
	if !priority.Valid() {
		return entity.Patient{}, fmt.Errorf("unknown priority %q: %w", np.Priority, entity.ErrInvalidPatient)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	patient := entity.Patient{
		ID:           m.newID(),
		Name:         name,
		Ticket:       strings.TrimSpace(np.Ticket),
		Priority:     priority,
		Status:       entity.StatusWaiting,
		Unit:         m.unit,
		CreatedAt:    now,
		UpdatedAt:    now,
		Observations: np.Observations,
	}
	if patient.Ticket == "" {
		patient.Ticket = m.nextTicket(priority)
	}

	if err := m.commit(ctx, "register", nil, patient, nil); err != nil {
		return entity.Patient{}, err
	}

	m.logger.Info("Patient registered",
		"patientId", patient.ID,
		"ticket", patient.Ticket,
		"priority", patient.Priority)
	return patient.Clone(), nil
}

// nextTicket builds labels like N001, P002, E003 per priority
func (m *CallStateMachine) nextTicket(p entity.Priority) string {
	m.ticketSeq[p]++
	return fmt.Sprintf("%s%03d", ticketPrefix(p), m.ticketSeq[p])
}

// observeTicket moves the counter of p past an existing generated label
func (m *CallStateMachine) observeTicket(p entity.Priority, ticket string) {
	prefix := ticketPrefix(p)
	if !strings.HasPrefix(ticket, prefix) {
		return
	}
	n, err := strconv.Atoi(ticket[len(prefix):])
	if err != nil || n <= m.ticketSeq[p] {
		return
	}
	m.ticketSeq[p] = n
}

func ticketPrefix(p entity.Priority) string {
	return strings.ToUpper(string(p)[:1])
}

// Call moves a waiting patient into service for stage and announces it
func (m *CallStateMachine) Call(ctx context.Context, id string, stage entity.Stage, room string) (entity.Patient, error) {
	if !stage.Valid() {
		return entity.Patient{}, fmt.Errorf("call %q: %w", stage, entity.ErrUnknownStage)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.store.Get(ctx, id)
	if err != nil {
		return entity.Patient{}, m.reject("call", err)
	}
	return m.callLocked(ctx, before, stage, room)
}

// CallNext calls the patient the selector picks for stage
func (m *CallStateMachine) CallNext(ctx context.Context, stage entity.Stage, room string) (entity.Patient, error) {
	if !stage.Valid() {
		return entity.Patient{}, fmt.Errorf("call next %q: %w", stage, entity.ErrUnknownStage)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates, err := m.store.ListByStatus(ctx, stage.WaitingStatus())
	if err != nil {
		return entity.Patient{}, m.reject("call_next", err)
	}

	next, ok := SelectNext(candidates, stage)
	if !ok {
		return entity.Patient{}, fmt.Errorf("stage %s: %w", stage, entity.ErrQueueEmpty)
	}
	return m.callLocked(ctx, next, stage, room)
}

func (m *CallStateMachine) callLocked(ctx context.Context, before entity.Patient, stage entity.Stage, room string) (entity.Patient, error) {
	if before.Status.IsTerminal() {
		return entity.Patient{}, m.reject("call", fmt.Errorf("call %s: %w", before.ID, entity.ErrTerminalState))
	}
	if before.Status != stage.WaitingStatus() {
		return entity.Patient{}, m.reject("call", fmt.Errorf("call %s for %s from %s: %w", before.ID, stage, before.Status, entity.ErrInvalidTransition))
	}

	now := m.now()
	after := before.Clone()
	after.Status = stage.ServingStatus()
	after.MarkCalled(stage, now)
	if room = strings.TrimSpace(room); room != "" {
		after.Destination = room
	}
	after.UpdatedAt = now

	event := entity.CallEvent{
		ID:       m.newID(),
		Patient:  after.Clone(),
		Stage:    stage,
		Room:     after.Destination,
		Unit:     after.Unit,
		CalledAt: now,
	}

	if err := m.commit(ctx, "call", &before, after, &event); err != nil {
		return entity.Patient{}, err
	}

	m.metrics.CallsIssued.WithLabelValues(string(stage)).Inc()
	m.logger.Info("Patient called",
		"patientId", after.ID,
		"ticket", after.Ticket,
		"stage", stage,
		"room", after.Destination)

	m.sink.Submit(entity.AnnouncementRequest{
		Patient:     after.Clone(),
		Stage:       stage,
		Room:        after.Destination,
		RequestedAt: now,
	})
	return after.Clone(), nil
}

// Recall announces the current call again, only refreshing calledAt
func (m *CallStateMachine) Recall(ctx context.Context, id string) (entity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.store.Get(ctx, id)
	if err != nil {
		return entity.Patient{}, m.reject("recall", err)
	}
	if before.Status.IsTerminal() {
		return entity.Patient{}, m.reject("recall", fmt.Errorf("recall %s: %w", id, entity.ErrTerminalState))
	}
	if !before.HasBeenCalled() {
		return entity.Patient{}, m.reject("recall", fmt.Errorf("recall %s: %w", id, entity.ErrNotCalled))
	}
	if !before.Status.IsServing() {
		return entity.Patient{}, m.reject("recall", fmt.Errorf("recall %s from %s: %w", id, before.Status, entity.ErrInvalidTransition))
	}

	now := m.now()
	after := before.Clone()
	stage := *after.CalledBy
	after.MarkCalled(stage, now)
	after.UpdatedAt = now

	if err := m.commit(ctx, "recall", &before, after, nil); err != nil {
		return entity.Patient{}, err
	}

	m.metrics.Recalls.Inc()
	m.logger.Info("Patient recalled", "patientId", id, "stage", stage)

	m.sink.Submit(entity.AnnouncementRequest{
		Patient:     after.Clone(),
		Stage:       stage,
		Room:        after.Destination,
		Recall:      true,
		RequestedAt: now,
	})
	return after.Clone(), nil
}

// MarkAttended finishes the current stage and moves to the next one in the
// fixed stage table, or to attended when the stage ends the pathway
func (m *CallStateMachine) MarkAttended(ctx context.Context, id string) (entity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.servingPatient(ctx, "attend", id)
	if err != nil {
		return entity.Patient{}, err
	}

	stage, _ := before.Status.Stage()
	after := before.Clone()
	if next, ok := stage.Next(); ok {
		after.Status = next.WaitingStatus()
	} else {
		after.Status = entity.StatusAttended
	}
	after.Destination = ""
	after.UpdatedAt = m.now()

	if err := m.commit(ctx, "attend", &before, after, nil); err != nil {
		return entity.Patient{}, err
	}

	m.metrics.Attended.Inc()
	m.logger.Info("Stage attended", "patientId", id, "stage", stage, "status", after.Status)
	return after.Clone(), nil
}

// Refer sends a patient in consultation to a procedure stage queue
func (m *CallStateMachine) Refer(ctx context.Context, id string, stage entity.Stage) (entity.Patient, error) {
	if !stage.IsProcedure() {
		return entity.Patient{}, fmt.Errorf("refer to %q: %w", stage, entity.ErrInvalidTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.store.Get(ctx, id)
	if err != nil {
		return entity.Patient{}, m.reject("refer", err)
	}
	if before.Status.IsTerminal() {
		return entity.Patient{}, m.reject("refer", fmt.Errorf("refer %s: %w", id, entity.ErrTerminalState))
	}
	if before.Status != entity.StatusInConsultation {
		return entity.Patient{}, m.reject("refer", fmt.Errorf("refer %s from %s: %w", id, before.Status, entity.ErrInvalidTransition))
	}

	after := before.Clone()
	after.Status = stage.WaitingStatus()
	after.Destination = ""
	after.UpdatedAt = m.now()

	if err := m.commit(ctx, "refer", &before, after, nil); err != nil {
		return entity.Patient{}, err
	}

	m.logger.Info("Patient referred", "patientId", id, "stage", stage)
	return after.Clone(), nil
}

// MarkMissed sends the patient back to the queue of the stage it was just
// called for. No progress is recorded, only the miss counter.
func (m *CallStateMachine) MarkMissed(ctx context.Context, id string) (entity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.servingPatient(ctx, "miss", id)
	if err != nil {
		return entity.Patient{}, err
	}

	stage, _ := before.Status.Stage()
	after := before.Clone()
	after.Status = stage.WaitingStatus()
	after.Misses++
	after.UpdatedAt = m.now()

	if err := m.commit(ctx, "miss", &before, after, nil); err != nil {
		return entity.Patient{}, err
	}

	m.metrics.Misses.WithLabelValues(string(stage)).Inc()
	m.logger.Info("Patient missed call", "patientId", id, "stage", stage, "misses", after.Misses)
	return after.Clone(), nil
}

func (m *CallStateMachine) servingPatient(ctx context.Context, op, id string) (entity.Patient, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return entity.Patient{}, m.reject(op, err)
	}
	if p.Status.IsTerminal() {
		return entity.Patient{}, m.reject(op, fmt.Errorf("%s %s: %w", op, id, entity.ErrTerminalState))
	}
	if !p.Status.IsServing() {
		return entity.Patient{}, m.reject(op, fmt.Errorf("%s %s from %s: %w", op, id, p.Status, entity.ErrInvalidTransition))
	}
	return p, nil
}

// Remove deletes a patient from the unit
func (m *CallStateMachine) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Get(ctx, id); err != nil {
		return m.reject("remove", err)
	}
	if m.persistence != nil {
		if err := m.persistence.Delete(ctx, id); err != nil && !errors.Is(err, entity.ErrNotFound) {
			return m.reject("remove", fmt.Errorf("%w: remove patient %s: %w", entity.ErrStoreUnavailable, id, err))
		}
	}
	if err := m.store.Remove(ctx, id); err != nil {
		return err
	}
	m.notify(ctx, id, entity.ChangeDelete)
	return nil
}

// Get returns a patient from the store
func (m *CallStateMachine) Get(ctx context.Context, id string) (entity.Patient, error) {
	return m.store.Get(ctx, id)
}

// List returns patients, all of them when status is empty
func (m *CallStateMachine) List(ctx context.Context, status entity.Status) ([]entity.Patient, error) {
	if status == "" {
		return m.store.List(ctx)
	}
	return m.store.ListByStatus(ctx, status)
}

// RecordQueueDepth publishes how many patients wait in each queue
func (m *CallStateMachine) RecordQueueDepth(ctx context.Context) error {
	patients, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	counts := map[entity.Status]int{}
	for _, p := range patients {
		if p.Status.IsWaiting() {
			counts[p.Status]++
		}
	}
	for _, stage := range entity.Stages {
		status := stage.WaitingStatus()
		m.metrics.WaitingPatients.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	return nil
}

// Bootstrap loads the unit's durable patients into the store
func (m *CallStateMachine) Bootstrap(ctx context.Context) (int, error) {
	if m.persistence == nil {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	patients, err := m.persistence.FindAll(ctx, m.unit)
	if err != nil {
		return 0, fmt.Errorf("%w: load patients: %w", entity.ErrStoreUnavailable, err)
	}
	loaded := 0
	for _, p := range patients {
		if err := m.store.Upsert(ctx, p); err != nil {
			m.logger.Warn("Skipping invalid stored patient", "patientId", p.ID, "error", err)
			continue
		}
		if p.Priority.Valid() {
			m.observeTicket(p.Priority, p.Ticket)
		}
		loaded++
	}
	return loaded, nil
}

// Reconcile treats a change notification as invalidate-and-refetch: the
// durable record replaces the in-memory one as a whole
func (m *CallStateMachine) Reconcile(ctx context.Context, id string) error {
	if m.persistence == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fresh, err := m.persistence.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			if rmErr := m.store.Remove(ctx, id); rmErr != nil && !errors.Is(rmErr, entity.ErrNotFound) {
				return rmErr
			}
			return nil
		}
		return fmt.Errorf("%w: refetch patient %s: %w", entity.ErrStoreUnavailable, id, err)
	}
	if fresh.Unit != m.unit {
		return nil
	}

	// the durable copy keeps millisecond precision
	current, err := m.store.Get(ctx, id)
	if err == nil &&
		current.UpdatedAt.Truncate(time.Millisecond).Equal(fresh.UpdatedAt.Truncate(time.Millisecond)) &&
		current.Status == fresh.Status {
		return nil
	}
	if fresh.Priority.Valid() {
		m.observeTicket(fresh.Priority, fresh.Ticket)
	}
	return m.store.Upsert(ctx, *fresh)
}

// commit applies a transition: durable record, archived event, then memory.
// On any failure the durable record is restored and memory is untouched.
func (m *CallStateMachine) commit(ctx context.Context, op string, before *entity.Patient, after entity.Patient, event *entity.CallEvent) error {
	if m.persistence != nil {
		if err := m.persistence.Save(ctx, after); err != nil {
			return m.reject(op, fmt.Errorf("%w: save patient %s: %w", entity.ErrStoreUnavailable, after.ID, err))
		}
	}

	if event != nil {
		if m.archive != nil {
			if err := m.archive.Append(ctx, *event); err != nil {
				m.restore(ctx, before, after.ID)
				return m.reject(op, fmt.Errorf("%w: archive call of %s: %w", entity.ErrStoreUnavailable, after.ID, err))
			}
		}
		if err := m.ledger.Append(ctx, *event); err != nil {
			m.restore(ctx, before, after.ID)
			return m.reject(op, fmt.Errorf("%w: append call of %s: %w", entity.ErrStoreUnavailable, after.ID, err))
		}
	}

	if err := m.store.Upsert(ctx, after); err != nil {
		return m.reject(op, err)
	}

	m.notify(ctx, after.ID, entity.ChangeUpsert)
	return nil
}

// restore puts the durable record back after a failed commit
func (m *CallStateMachine) restore(ctx context.Context, before *entity.Patient, id string) {
	if m.persistence == nil {
		return
	}
	var err error
	if before == nil {
		err = m.persistence.Delete(ctx, id)
	} else {
		err = m.persistence.Save(ctx, *before)
	}
	if err != nil {
		m.logger.Error("Failed to restore patient after aborted transition", "patientId", id, "error", err)
	}
}

func (m *CallStateMachine) notify(ctx context.Context, id string, op entity.ChangeOp) {
	if m.feed == nil {
		return
	}
	n := entity.ChangeNotification{PatientID: id, Op: op, At: m.now()}
	if err := m.feed.Publish(ctx, n); err != nil {
		m.logger.Warn("Failed to publish change notification", "patientId", id, "error", err)
	}
}

func (m *CallStateMachine) reject(op string, err error) error {
	m.metrics.TransitionErrors.WithLabelValues(op).Inc()
	return err
}
