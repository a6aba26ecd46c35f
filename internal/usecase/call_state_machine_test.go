package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"patient-call-service/internal/domain/entity"
	memrepo "patient-call-service/internal/interface/repository"
	"patient-call-service/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type machineFixture struct {
	machine *CallStateMachine
	store   *memrepo.MemoryPatientStore
	ledger  *memrepo.MemoryCallHistory
	sink    *recordingSink
}

func newMachineFixture() *machineFixture {
	clock := newStepClock(time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))
	f := &machineFixture{
		store:  memrepo.NewMemoryPatientStore(),
		ledger: memrepo.NewMemoryCallHistory(),
		sink:   &recordingSink{},
	}
	f.machine = NewCallStateMachine(f.store, f.ledger, f.sink, "upa-1", logger.NewNopLogger(), newTestMetrics()).
		WithClock(clock.Now)
	return f
}

func (f *machineFixture) register(t *testing.T, name string, prio entity.Priority) entity.Patient {
	t.Helper()
	p, err := f.machine.Register(context.Background(), entity.NewPatient{Name: name, Priority: prio})
	require.NoError(t, err)
	return p
}

func (f *machineFixture) history(t *testing.T) []entity.CallEvent {
	t.Helper()
	events, err := f.ledger.List(context.Background())
	require.NoError(t, err)
	return events
}

func TestCallStateMachine_Register(t *testing.T) {
	f := newMachineFixture()

	p := f.register(t, "  Maria Silva ", entity.PriorityEmergency)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Maria Silva", p.Name)
	assert.Equal(t, "E001", p.Ticket)
	assert.Equal(t, entity.StatusWaiting, p.Status)
	assert.Equal(t, "upa-1", p.Unit)
	assert.Nil(t, p.CalledAt)

	second := f.register(t, "Joao", entity.PriorityEmergency)
	assert.Equal(t, "E002", second.Ticket)

	normal := f.register(t, "Ana", "")
	assert.Equal(t, "N001", normal.Ticket)
	assert.Equal(t, entity.PriorityNormal, normal.Priority)
}

func TestCallStateMachine_RegisterRejectsBadInput(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()

	_, err := f.machine.Register(ctx, entity.NewPatient{Name: "  "})
	assert.ErrorIs(t, err, entity.ErrInvalidPatient)

	_, err = f.machine.Register(ctx, entity.NewPatient{Name: "Ana", Priority: "vip"})
	assert.ErrorIs(t, err, entity.ErrInvalidPatient)
}

func TestCallStateMachine_MissedEmergencyIsCalledAgain(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()

	f.register(t, "Ana", entity.PriorityNormal)
	emergency := f.register(t, "Pedro", entity.PriorityEmergency)

	called, err := f.machine.CallNext(ctx, entity.StageTriage, "Sala 1")
	require.NoError(t, err)
	assert.Equal(t, emergency.ID, called.ID)
	assert.Equal(t, entity.StatusInTriage, called.Status)
	assert.Equal(t, "Sala 1", called.Destination)
	require.NotNil(t, called.CalledBy)
	assert.Equal(t, entity.StageTriage, *called.CalledBy)

	missed, err := f.machine.MarkMissed(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaiting, missed.Status)
	assert.Equal(t, 1, missed.Misses)

	again, err := f.machine.CallNext(ctx, entity.StageTriage, "Sala 1")
	require.NoError(t, err)
	assert.Equal(t, emergency.ID, again.ID)

	events := f.history(t)
	require.Len(t, events, 2)
	assert.Equal(t, emergency.ID, events[0].Patient.ID)
	assert.Equal(t, emergency.ID, events[1].Patient.ID)
	assert.True(t, events[1].CalledAt.After(events[0].CalledAt))
	assert.Len(t, f.sink.Requests(), 2)
}

func TestCallStateMachine_RecallNeverCalled(t *testing.T) {
	f := newMachineFixture()
	p := f.register(t, "Ana", entity.PriorityNormal)

	_, err := f.machine.Recall(context.Background(), p.ID)
	assert.ErrorIs(t, err, entity.ErrNotCalled)

	stored, err := f.machine.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CalledAt)
	assert.Empty(t, f.history(t))
	assert.Empty(t, f.sink.Requests())
}

func TestCallStateMachine_RecallRefreshesCalledAtOnly(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	p := f.register(t, "Ana", entity.PriorityNormal)

	called, err := f.machine.Call(ctx, p.ID, entity.StageTriage, "Sala 3")
	require.NoError(t, err)

	recalled, err := f.machine.Recall(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInTriage, recalled.Status)
	assert.Equal(t, "Sala 3", recalled.Destination)
	assert.True(t, recalled.CalledAt.After(*called.CalledAt))

	assert.Len(t, f.history(t), 1)
	reqs := f.sink.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[1].Recall)
	assert.Equal(t, "Sala 3", reqs[1].Room)
}

func TestCallStateMachine_RecallAfterStageFinished(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	p := f.register(t, "Ana", entity.PriorityNormal)

	_, err := f.machine.Call(ctx, p.ID, entity.StageTriage, "")
	require.NoError(t, err)
	_, err = f.machine.MarkAttended(ctx, p.ID)
	require.NoError(t, err)

	_, err = f.machine.Recall(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
}

func TestCallStateMachine_FullPathway(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	p := f.register(t, "Ana", entity.PriorityPriority)

	_, err := f.machine.Call(ctx, p.ID, entity.StageTriage, "Triagem 1")
	require.NoError(t, err)

	afterTriage, err := f.machine.MarkAttended(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaitingDoctor, afterTriage.Status)
	assert.Empty(t, afterTriage.Destination)

	_, err = f.machine.Call(ctx, p.ID, entity.StageDoctor, "Consultorio 2")
	require.NoError(t, err)

	referred, err := f.machine.Refer(ctx, p.ID, entity.StageRaioX)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaitingRaioX, referred.Status)

	_, err = f.machine.Call(ctx, p.ID, entity.StageRaioX, "")
	require.NoError(t, err)

	done, err := f.machine.MarkAttended(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAttended, done.Status)
	assert.Len(t, f.history(t), 3)
}

func TestCallStateMachine_TerminalStateRejectsEverything(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	p := f.register(t, "Ana", entity.PriorityNormal)

	_, err := f.machine.Call(ctx, p.ID, entity.StageTriage, "")
	require.NoError(t, err)
	_, err = f.machine.MarkAttended(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.machine.Call(ctx, p.ID, entity.StageDoctor, "")
	require.NoError(t, err)
	_, err = f.machine.MarkAttended(ctx, p.ID)
	require.NoError(t, err)

	_, err = f.machine.Call(ctx, p.ID, entity.StageDoctor, "")
	assert.ErrorIs(t, err, entity.ErrTerminalState)
	_, err = f.machine.Recall(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrTerminalState)
	_, err = f.machine.MarkAttended(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrTerminalState)
	_, err = f.machine.MarkMissed(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrTerminalState)
	_, err = f.machine.Refer(ctx, p.ID, entity.StageECG)
	assert.ErrorIs(t, err, entity.ErrTerminalState)

	assert.Len(t, f.history(t), 2)
}

func TestCallStateMachine_InvalidTransitions(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	p := f.register(t, "Ana", entity.PriorityNormal)

	_, err := f.machine.Call(ctx, p.ID, entity.StageDoctor, "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = f.machine.MarkAttended(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = f.machine.MarkMissed(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = f.machine.Call(ctx, p.ID, entity.StageTriage, "")
	require.NoError(t, err)
	_, err = f.machine.Refer(ctx, p.ID, entity.StageECG)
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = f.machine.Call(ctx, p.ID, entity.Stage("pharmacy"), "")
	assert.ErrorIs(t, err, entity.ErrUnknownStage)

	_, err = f.machine.Call(ctx, "missing", entity.StageTriage, "")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCallStateMachine_CallNextEmptyQueue(t *testing.T) {
	f := newMachineFixture()

	_, err := f.machine.CallNext(context.Background(), entity.StageDoctor, "")
	assert.ErrorIs(t, err, entity.ErrQueueEmpty)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.machine.metrics.CallsIssued.WithLabelValues("doctor")))
}

func TestCallStateMachine_PersistenceFailureLeavesRecordUntouched(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	repo := new(MockPatientRepository)
	f.machine.WithPersistence(repo, nil)

	repo.On("Save", mock.Anything, mock.MatchedBy(func(p entity.Patient) bool {
		return p.Status == entity.StatusWaiting
	})).Return(nil)
	repo.On("Save", mock.Anything, mock.MatchedBy(func(p entity.Patient) bool {
		return p.Status == entity.StatusInTriage
	})).Return(errors.New("connection reset"))

	p := f.register(t, "Ana", entity.PriorityNormal)

	_, err := f.machine.Call(ctx, p.ID, entity.StageTriage, "Sala 1")
	assert.ErrorIs(t, err, entity.ErrStoreUnavailable)

	stored, err := f.machine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaiting, stored.Status)
	assert.Nil(t, stored.CalledAt)
	assert.Empty(t, f.history(t))
	assert.Empty(t, f.sink.Requests())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.machine.metrics.TransitionErrors.WithLabelValues("call")))
}

type failingArchive struct {
	*memrepo.MemoryCallHistory
}

func (failingArchive) Append(context.Context, entity.CallEvent) error {
	return errors.New("archive down")
}

func TestCallStateMachine_ArchiveFailureRestoresDurableRecord(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	repo := new(MockPatientRepository)
	f.machine.WithPersistence(repo, failingArchive{memrepo.NewMemoryCallHistory()})

	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	p := f.register(t, "Ana", entity.PriorityNormal)

	_, err := f.machine.Call(ctx, p.ID, entity.StageTriage, "")
	assert.ErrorIs(t, err, entity.ErrStoreUnavailable)

	// register, the attempted call, then the restore of the waiting record
	require.Len(t, repo.Calls, 3)
	restored := repo.Calls[2].Arguments.Get(1).(entity.Patient)
	assert.Equal(t, entity.StatusWaiting, restored.Status)
	assert.Nil(t, restored.CalledAt)

	stored, err := f.machine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaiting, stored.Status)
	assert.Empty(t, f.history(t))
}

func TestCallStateMachine_Reconcile(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	repo := new(MockPatientRepository)
	f.machine.WithPersistence(repo, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	gone := f.register(t, "Ana", entity.PriorityNormal)
	changed := f.register(t, "Bia", entity.PriorityNormal)

	fresh := changed.Clone()
	fresh.Priority = entity.PriorityEmergency
	fresh.UpdatedAt = changed.UpdatedAt.Add(time.Minute)
	other := entity.Patient{ID: "x1", Name: "Caio", Status: entity.StatusWaiting, Unit: "upa-2"}

	repo.On("FindByID", mock.Anything, gone.ID).Return(nil, entity.ErrNotFound)
	repo.On("FindByID", mock.Anything, changed.ID).Return(&fresh, nil)
	repo.On("FindByID", mock.Anything, "x1").Return(&other, nil)

	require.NoError(t, f.machine.Reconcile(ctx, gone.ID))
	require.NoError(t, f.machine.Reconcile(ctx, changed.ID))
	require.NoError(t, f.machine.Reconcile(ctx, "x1"))

	_, err := f.machine.Get(ctx, gone.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	got, err := f.machine.Get(ctx, changed.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PriorityEmergency, got.Priority)

	_, err = f.machine.Get(ctx, "x1")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCallStateMachine_Bootstrap(t *testing.T) {
	f := newMachineFixture()
	repo := new(MockPatientRepository)
	f.machine.WithPersistence(repo, nil)

	repo.On("FindAll", mock.Anything, "upa-1").Return([]entity.Patient{
		{ID: "a", Name: "Ana", Status: entity.StatusWaiting, Unit: "upa-1"},
		{ID: "b", Name: "Bia", Status: entity.Status("lost"), Unit: "upa-1"},
	}, nil)

	loaded, err := f.machine.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	all, err := f.machine.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].ID)
}

func TestCallStateMachine_BootstrapContinuesTicketNumbering(t *testing.T) {
	ctx := context.Background()
	repo := new(MockPatientRepository)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	first := newMachineFixture()
	first.machine.WithPersistence(repo, nil)
	n1 := first.register(t, "Ana", entity.PriorityNormal)
	n2 := first.register(t, "Bia", entity.PriorityNormal)
	e1 := first.register(t, "Caio", entity.PriorityEmergency)
	require.Equal(t, "N002", n2.Ticket)

	repo.On("FindAll", mock.Anything, "upa-1").Return([]entity.Patient{n1, n2, e1}, nil)

	restarted := newMachineFixture()
	restarted.machine.WithPersistence(repo, nil)
	loaded, err := restarted.machine.Bootstrap(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, loaded)

	assert.Equal(t, "N003", restarted.register(t, "Davi", entity.PriorityNormal).Ticket)
	assert.Equal(t, "E002", restarted.register(t, "Eva", entity.PriorityEmergency).Ticket)
	assert.Equal(t, "P001", restarted.register(t, "Fabio", entity.PriorityPriority).Ticket)
}

func TestCallStateMachine_ReconcileIgnoresOwnEchoAtStoragePrecision(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	repo := new(MockPatientRepository)
	f.machine.WithPersistence(repo, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	p := f.register(t, "Ana", entity.PriorityNormal)
	local := p.UpdatedAt.Add(123456 * time.Nanosecond)
	p.UpdatedAt = local
	require.NoError(t, f.store.Upsert(ctx, p))

	stored := p.Clone()
	stored.Name = "Ana (stored copy)"
	stored.UpdatedAt = local.Truncate(time.Millisecond).UTC()
	repo.On("FindByID", mock.Anything, p.ID).Return(&stored, nil)

	require.NoError(t, f.machine.Reconcile(ctx, p.ID))

	got, err := f.machine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, local, got.UpdatedAt)
}

func TestCallStateMachine_Remove(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()
	p := f.register(t, "Ana", entity.PriorityNormal)

	require.NoError(t, f.machine.Remove(ctx, p.ID))
	assert.ErrorIs(t, f.machine.Remove(ctx, p.ID), entity.ErrNotFound)
}

func TestCallStateMachine_RecordQueueDepth(t *testing.T) {
	f := newMachineFixture()
	ctx := context.Background()

	f.register(t, "Ana", entity.PriorityNormal)
	f.register(t, "Bia", entity.PriorityNormal)
	caio := f.register(t, "Caio", entity.PriorityNormal)
	_, err := f.machine.Call(ctx, caio.ID, entity.StageTriage, "")
	require.NoError(t, err)
	_, err = f.machine.MarkAttended(ctx, caio.ID)
	require.NoError(t, err)

	require.NoError(t, f.machine.RecordQueueDepth(ctx))

	gauge := f.machine.metrics.WaitingPatients
	assert.Equal(t, 2.0, testutil.ToFloat64(gauge.WithLabelValues(string(entity.StatusWaiting))))
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge.WithLabelValues(string(entity.StatusWaitingDoctor))))
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge.WithLabelValues(string(entity.StatusWaitingECG))))
}
