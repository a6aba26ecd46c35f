package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
	"patient-call-service/pkg/metrics"
	"patient-call-service/pkg/utils"
	"patient-call-service/templates"

	"golang.org/x/sync/singleflight"
)

const (
	phrasePrefix = "phrases/"
	clockPrefix  = "clock/"
	audioExt     = ".mp3"
)

// PhraseKey is the cache key of an ad hoc phrase. Texts that only differ by
// case or spacing share a key.
func PhraseKey(text string) string {
	return phrasePrefix + utils.HashText(text) + audioExt
}

// ClockKey is the cache key of a pre-rendered clock announcement
func ClockKey(stage entity.Stage, hour, minute int) string {
	return fmt.Sprintf("%s%s/%02d-%02d%s", clockPrefix, stage, hour, minute, audioExt)
}

// PipelineConfig holds the synthesis settings of the announcement pipeline
type PipelineConfig struct {
	Credentials      []string
	VoiceID          string
	Timeout          time.Duration
	ClockStages      []entity.Stage
	PrerenderMinutes int
}

// AnnouncementPipeline turns a call into announcement text and, when
// possible, audio. Audio problems never fail the announcement.
type AnnouncementPipeline struct {
	phrases     repository.PhraseTemplateRepository
	storage     repository.AudioStorage
	synthesizer repository.SpeechSynthesizer
	logger      logger.Logger
	metrics     *metrics.Metrics

	credentials      []string
	voiceID          string
	timeout          time.Duration
	clockStages      []entity.Stage
	prerenderMinutes int

	group singleflight.Group
	pick  func(n int) int
	now   func() time.Time
}

// NewAnnouncementPipeline creates a pipeline. phrases may be nil, in which
// case the built-in stage templates are used.
func NewAnnouncementPipeline(
	phrases repository.PhraseTemplateRepository,
	storage repository.AudioStorage,
	synthesizer repository.SpeechSynthesizer,
	cfg PipelineConfig,
	logger logger.Logger,
	metrics *metrics.Metrics,
) *AnnouncementPipeline {
	var creds []string
	for _, c := range cfg.Credentials {
		if c = strings.TrimSpace(c); c != "" {
			creds = append(creds, c)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &AnnouncementPipeline{
		phrases:          phrases,
		storage:          storage,
		synthesizer:      synthesizer,
		logger:           logger,
		metrics:          metrics,
		credentials:      creds,
		voiceID:          cfg.VoiceID,
		timeout:          timeout,
		clockStages:      cfg.ClockStages,
		prerenderMinutes: cfg.PrerenderMinutes,
		pick:             rand.Intn,
		now:              time.Now,
	}
}

// Compose fills the stage template with the patient's data
func (p *AnnouncementPipeline) Compose(ctx context.Context, patient entity.Patient, stage entity.Stage, room string) string {
	tpl := ""
	if p.phrases != nil {
		var err error
		tpl, err = p.phrases.GetTemplate(ctx, stage)
		if err != nil {
			p.logger.Warn("Failed to load stage template, using default", "stage", stage, "error", err)
			tpl = ""
		}
	}
	if strings.TrimSpace(tpl) == "" {
		tpl = templates.StagePhrase(stage)
	}

	return utils.FillTemplate(tpl, map[string]string{
		templates.PlaceholderName:   patient.Name,
		templates.PlaceholderTicket: patient.Ticket,
		templates.PlaceholderRoom:   room,
		templates.PlaceholderStage:  templates.StageLabel(stage),
	})
}

// Announce composes the text and resolves its audio from the cache or the
// synthesis provider
func (p *AnnouncementPipeline) Announce(ctx context.Context, patient entity.Patient, stage entity.Stage, room string) entity.AnnouncementResult {
	text := p.Compose(ctx, patient, stage, room)
	key := PhraseKey(text)

	result := entity.AnnouncementResult{
		PatientID: patient.ID,
		Ticket:    patient.Ticket,
		Name:      patient.Name,
		Stage:     stage,
		Room:      room,
		Text:      text,
		AudioKey:  key,
	}

	url, hit, err := p.ensureAudio(ctx, key, text)
	if err != nil {
		p.logger.Warn("Announcement audio unavailable",
			"patientId", patient.ID,
			"stage", stage,
			"error", err)
		result.AudioUnavailable = true
		result.Err = err
		result.Error = err.Error()
	} else {
		result.AudioURL = url
		result.CacheHit = hit
	}

	result.AnnouncedAt = p.now()
	return result
}

// ensureAudio returns the public URL of key, synthesizing text on a miss
func (p *AnnouncementPipeline) ensureAudio(ctx context.Context, key, text string) (string, bool, error) {
	url, ok, err := p.storage.GetPublicURL(ctx, key)
	if err != nil {
		p.metrics.CacheLookups.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("audio cache lookup %s: %w", key, err)
	}
	if ok {
		p.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return url, true, nil
	}
	p.metrics.CacheLookups.WithLabelValues("miss").Inc()

	if len(p.credentials) == 0 {
		p.metrics.SynthesisRequests.WithLabelValues("unavailable").Inc()
		return "", false, fmt.Errorf("no synthesis credential configured: %w", entity.ErrSynthesisUnavailable)
	}

	// The shared call must outlive a caller that gets superseded
	ch := p.group.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.synthesize(sctx, key, text)
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil
	}
}

func (p *AnnouncementPipeline) synthesize(ctx context.Context, key, text string) (string, error) {
	credential := p.credentials[p.pick(len(p.credentials))]

	start := time.Now()
	audio, err := p.synthesizer.Synthesize(ctx, credential, text, p.voiceID)
	p.metrics.SynthesisTime.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.SynthesisRequests.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: %w", entity.ErrSynthesisUnavailable, err)
	}
	p.metrics.SynthesisRequests.WithLabelValues("success").Inc()

	if err := p.storage.Put(ctx, key, audio); err != nil {
		return "", fmt.Errorf("store audio %s: %w", key, err)
	}

	url, ok, err := p.storage.GetPublicURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve audio url %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("audio %s missing right after upload", key)
	}

	p.logger.Debug("Audio synthesized", "key", key, "bytes", len(audio))
	return url, nil
}

// PrerenderClock synthesizes the clock announcements of the coming minutes
// for every configured stage. It is best-effort: failures are logged and
// the number of entries now available is returned.
func (p *AnnouncementPipeline) PrerenderClock(ctx context.Context, now time.Time) (int, error) {
	if len(p.credentials) == 0 {
		return 0, fmt.Errorf("prerender clock: %w", entity.ErrSynthesisUnavailable)
	}

	ready := 0
	var errs []error
	for i := 0; i < p.prerenderMinutes; i++ {
		t := now.Add(time.Duration(i) * time.Minute)
		hour, minute := t.Hour(), t.Minute()
		text := templates.ClockPhrase(hour, minute)

		for _, stage := range p.clockStages {
			if ctx.Err() != nil {
				return ready, ctx.Err()
			}
			key := ClockKey(stage, hour, minute)
			if _, _, err := p.ensureAudio(ctx, key, text); err != nil {
				p.logger.Warn("Failed to prerender clock audio", "key", key, "error", err)
				errs = append(errs, err)
				continue
			}
			ready++
		}
	}

	if ready == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return ready, nil
}
