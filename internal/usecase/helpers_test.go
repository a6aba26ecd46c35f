package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetricsWithRegisterer("test", prometheus.NewRegistry())
}

// stepClock advances one second on every reading
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{t: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// recordingSink captures submitted announcement requests
type recordingSink struct {
	mu       sync.Mutex
	requests []entity.AnnouncementRequest
}

func (s *recordingSink) Submit(req entity.AnnouncementRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *recordingSink) Requests() []entity.AnnouncementRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.AnnouncementRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// MockPatientRepository is a mock PatientRepository
type MockPatientRepository struct {
	mock.Mock
}

func (m *MockPatientRepository) Save(ctx context.Context, patient entity.Patient) error {
	args := m.Called(ctx, patient)
	return args.Error(0)
}

func (m *MockPatientRepository) FindByID(ctx context.Context, id string) (*entity.Patient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Patient), args.Error(1)
}

func (m *MockPatientRepository) FindAll(ctx context.Context, unit string) ([]entity.Patient, error) {
	args := m.Called(ctx, unit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Patient), args.Error(1)
}

func (m *MockPatientRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockSynthesizer is a mock SpeechSynthesizer
type MockSynthesizer struct {
	mock.Mock
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, credential, text, voiceID string) ([]byte, error) {
	args := m.Called(ctx, credential, text, voiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockPhraseTemplates is a mock PhraseTemplateRepository
type MockPhraseTemplates struct {
	mock.Mock
}

func (m *MockPhraseTemplates) GetTemplate(ctx context.Context, stage entity.Stage) (string, error) {
	args := m.Called(ctx, stage)
	return args.String(0), args.Error(1)
}

// fakeAudioStorage keeps objects in memory
type fakeAudioStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time
	lookups int
	listErr error
	deleted []string
}

func newFakeAudioStorage() *fakeAudioStorage {
	return &fakeAudioStorage{
		objects: map[string][]byte{},
		times:   map[string]time.Time{},
	}
}

func (s *fakeAudioStorage) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.times[key] = time.Now()
	return nil
}

func (s *fakeAudioStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return data, nil
}

func (s *fakeAudioStorage) GetPublicURL(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if _, ok := s.objects[key]; !ok {
		return "", false, nil
	}
	return "https://cdn.test/" + key, true, nil
}

func (s *fakeAudioStorage) List(_ context.Context, prefix string) ([]entity.AudioEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []entity.AudioEntry
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, entity.AudioEntry{Key: k, UpdatedAt: s.times[k]})
		}
	}
	return out, nil
}

func (s *fakeAudioStorage) Delete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
		delete(s.times, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

func (s *fakeAudioStorage) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *fakeAudioStorage) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeAudioStorage) putAt(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = []byte("audio")
	s.times[key] = at
}
