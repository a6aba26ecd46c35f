package tts

import (
	"context"
	"fmt"
	"time"

	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"

	"github.com/go-resty/resty/v2"
)

// RestSynthesizer calls a voice-id based text-to-speech HTTP API
// (POST /v1/text-to-speech/{voiceId}, key in the xi-api-key header)
type RestSynthesizer struct {
	httpClient *resty.Client
	modelID    string
	logger     logger.Logger
}

// NewRestSynthesizer creates a REST synthesizer. Retries are disabled: a
// failed credential is not retried within the same announcement.
func NewRestSynthesizer(baseURL, modelID string, timeout time.Duration, logger logger.Logger) repository.SpeechSynthesizer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/mpeg")

	return &RestSynthesizer{
		httpClient: client,
		modelID:    modelID,
		logger:     logger,
	}
}

type restSynthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Synthesize returns the raw audio bytes for text
func (s *RestSynthesizer) Synthesize(ctx context.Context, credential, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("xi-api-key", credential).
		SetPathParam("voiceId", voiceID).
		SetBody(restSynthesisRequest{Text: text, ModelID: s.modelID}).
		Post("/v1/text-to-speech/{voiceId}")
	if err != nil {
		return nil, fmt.Errorf("failed to call speech provider: %w", err)
	}

	if resp.IsError() {
		s.logger.Warn("Speech provider returned error",
			"statusCode", resp.StatusCode(),
			"body", truncate(resp.String(), 200))
		return nil, fmt.Errorf("speech provider returned status %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("speech provider returned empty audio")
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
