package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(phrases *MockPhraseTemplates, storage *fakeAudioStorage, synth *MockSynthesizer, cfg PipelineConfig) *AnnouncementPipeline {
	var repo repository.PhraseTemplateRepository
	if phrases != nil {
		repo = phrases
	}
	p := NewAnnouncementPipeline(repo, storage, synth, cfg, logger.NewNopLogger(), newTestMetrics())
	p.pick = func(int) int { return 0 }
	return p
}

var maria = entity.Patient{ID: "p1", Name: "Maria", Ticket: "A12"}

func TestPipeline_ComposeDefaultTemplate(t *testing.T) {
	p := newTestPipeline(nil, newFakeAudioStorage(), new(MockSynthesizer), PipelineConfig{})

	text := p.Compose(context.Background(), maria, entity.StageTriage, "Sala 2")
	assert.Equal(t, "Senha A12, Maria, por favor dirija-se à triagem Sala 2", text)

	noRoom := p.Compose(context.Background(), maria, entity.StageECG, "")
	assert.Equal(t, "Senha A12, Maria, por favor compareça à eletrocardiograma", noRoom)
}

func TestPipeline_ComposeConfiguredTemplate(t *testing.T) {
	phrases := new(MockPhraseTemplates)
	phrases.On("GetTemplate", mock.Anything, entity.StageDoctor).Return("{ticket} {name}, consultório {room}", nil)
	phrases.On("GetTemplate", mock.Anything, entity.StageTriage).Return("", errors.New("db down"))

	p := newTestPipeline(phrases, newFakeAudioStorage(), new(MockSynthesizer), PipelineConfig{})

	assert.Equal(t, "A12 Maria, consultório 4", p.Compose(context.Background(), maria, entity.StageDoctor, "4"))
	assert.Equal(t, "Senha A12, Maria, por favor dirija-se à triagem 1", p.Compose(context.Background(), maria, entity.StageTriage, "1"))
}

func TestPhraseKey_NormalizesText(t *testing.T) {
	assert.Equal(t, PhraseKey("Senha A12, Maria"), PhraseKey("  senha   a12,  MARIA "))
	assert.NotEqual(t, PhraseKey("Senha A12, Maria"), PhraseKey("Senha A13, Maria"))
	assert.Regexp(t, `^phrases/[0-9a-f]{64}\.mp3$`, PhraseKey("x"))
}

func TestClockKey(t *testing.T) {
	assert.Equal(t, "clock/triage/07-05.mp3", ClockKey(entity.StageTriage, 7, 5))
}

func TestPipeline_SameTextSynthesizedOnce(t *testing.T) {
	storage := newFakeAudioStorage()
	synth := new(MockSynthesizer)
	synth.On("Synthesize", mock.Anything, "key-a", mock.Anything, "voice").Return([]byte("mp3"), nil).Once()

	p := newTestPipeline(nil, storage, synth, PipelineConfig{Credentials: []string{"key-a"}, VoiceID: "voice"})
	ctx := context.Background()

	first := p.Announce(ctx, maria, entity.StageTriage, "Sala 2")
	require.False(t, first.AudioUnavailable)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "https://cdn.test/"+first.AudioKey, first.AudioURL)

	second := p.Announce(ctx, maria, entity.StageTriage, "Sala 2")
	require.False(t, second.AudioUnavailable)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.AudioURL, second.AudioURL)

	synth.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestPipeline_ConcurrentMissesShareOneSynthesis(t *testing.T) {
	storage := newFakeAudioStorage()
	synth := new(MockSynthesizer)
	release := make(chan time.Time)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(release).
		Return([]byte("mp3"), nil)

	p := newTestPipeline(nil, storage, synth, PipelineConfig{Credentials: []string{"key-a"}})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]entity.AnnouncementResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Announce(context.Background(), maria, entity.StageTriage, "Sala 2")
		}(i)
	}

	assert.Eventually(t, func() bool { return storage.Lookups() >= callers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.False(t, r.AudioUnavailable)
		assert.NotEmpty(t, r.AudioURL)
	}
	synth.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestPipeline_NoCredentialsFailsFast(t *testing.T) {
	synth := new(MockSynthesizer)
	p := newTestPipeline(nil, newFakeAudioStorage(), synth, PipelineConfig{Credentials: []string{"", "  "}})

	res := p.Announce(context.Background(), maria, entity.StageTriage, "1")
	assert.True(t, res.AudioUnavailable)
	assert.ErrorIs(t, res.Err, entity.ErrSynthesisUnavailable)
	assert.NotEmpty(t, res.Error)
	assert.NotEmpty(t, res.Text)
	assert.Empty(t, res.AudioURL)
	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_ProviderFailureKeepsText(t *testing.T) {
	storage := newFakeAudioStorage()
	synth := new(MockSynthesizer)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("429 rate limited"))

	p := newTestPipeline(nil, storage, synth, PipelineConfig{Credentials: []string{"key-a"}})

	res := p.Announce(context.Background(), maria, entity.StageDoctor, "3")
	assert.True(t, res.AudioUnavailable)
	assert.ErrorIs(t, res.Err, entity.ErrSynthesisUnavailable)
	assert.Equal(t, "Senha A12, Maria, por favor dirija-se ao consultório médico 3", res.Text)
	assert.False(t, storage.Has(res.AudioKey))
}

func TestPipeline_CredentialChosenAmongConfigured(t *testing.T) {
	synth := new(MockSynthesizer)
	synth.On("Synthesize", mock.Anything, "key-b", mock.Anything, mock.Anything).Return([]byte("mp3"), nil)

	p := newTestPipeline(nil, newFakeAudioStorage(), synth, PipelineConfig{Credentials: []string{"", "key-a", " ", "key-b"}})
	var gotN int
	p.pick = func(n int) int {
		gotN = n
		return n - 1
	}

	res := p.Announce(context.Background(), maria, entity.StageTriage, "1")
	require.False(t, res.AudioUnavailable)
	assert.Equal(t, 2, gotN)
	synth.AssertExpectations(t)
}

func TestPipeline_PrerenderClock(t *testing.T) {
	storage := newFakeAudioStorage()
	synth := new(MockSynthesizer)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]byte("mp3"), nil)

	p := newTestPipeline(nil, storage, synth, PipelineConfig{
		Credentials:      []string{"key-a"},
		ClockStages:      []entity.Stage{entity.StageTriage, entity.StageDoctor},
		PrerenderMinutes: 2,
	})
	now := time.Date(2026, 10, 16, 13, 59, 30, 0, time.UTC)

	n, err := p.PrerenderClock(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, storage.Has("clock/triage/13-59.mp3"))
	assert.True(t, storage.Has("clock/triage/14-00.mp3"))
	assert.True(t, storage.Has("clock/doctor/14-00.mp3"))
	synth.AssertNumberOfCalls(t, "Synthesize", 4)

	n, err = p.PrerenderClock(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	synth.AssertNumberOfCalls(t, "Synthesize", 4)
}

func TestPipeline_PrerenderClockWithoutCredentials(t *testing.T) {
	p := newTestPipeline(nil, newFakeAudioStorage(), new(MockSynthesizer), PipelineConfig{
		ClockStages:      []entity.Stage{entity.StageTriage},
		PrerenderMinutes: 1,
	})

	_, err := p.PrerenderClock(context.Background(), time.Now())
	assert.ErrorIs(t, err, entity.ErrSynthesisUnavailable)
}
