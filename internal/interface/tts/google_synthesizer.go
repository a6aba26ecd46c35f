package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

// OAuthCredential selects the OAuth token source instead of an API key
const OAuthCredential = "oauth"

// GoogleSynthesizer uses Google Cloud Text-to-Speech. Each credential is an
// API key, or OAuthCredential when a refresh token is configured.
type GoogleSynthesizer struct {
	tokenSource  oauth2.TokenSource
	languageCode string
	logger       logger.Logger

	mu       sync.Mutex
	services map[string]*texttospeech.Service
}

// NewGoogleSynthesizer creates a Google synthesizer. tokenSource may be nil.
func NewGoogleSynthesizer(tokenSource oauth2.TokenSource, languageCode string, logger logger.Logger) repository.SpeechSynthesizer {
	return &GoogleSynthesizer{
		tokenSource:  tokenSource,
		languageCode: languageCode,
		logger:       logger,
		services:     map[string]*texttospeech.Service{},
	}
}

func (s *GoogleSynthesizer) service(credential string) (*texttospeech.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.services[credential]; ok {
		return svc, nil
	}

	var opt option.ClientOption
	if credential == OAuthCredential {
		if s.tokenSource == nil {
			return nil, fmt.Errorf("oauth credential selected but no token source configured")
		}
		opt = option.WithTokenSource(s.tokenSource)
	} else {
		opt = option.WithAPIKey(credential)
	}

	svc, err := texttospeech.NewService(context.Background(), opt)
	if err != nil {
		return nil, err
	}
	s.services[credential] = svc
	return svc, nil
}

// Synthesize returns MP3 audio for text
func (s *GoogleSynthesizer) Synthesize(ctx context.Context, credential, text, voiceID string) ([]byte, error) {
	svc, err := s.service(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: s.languageCode,
			Name:         voiceID,
		},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}

	resp, err := svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech provider returned empty audio")
	}

	s.logger.Debug("Speech synthesized", "bytes", len(audio), "voice", voiceID)
	return audio, nil
}
