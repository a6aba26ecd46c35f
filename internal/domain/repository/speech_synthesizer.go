package repository

import "context"

// SpeechSynthesizer turns text into audio bytes using one provider credential
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, credential, text, voiceID string) ([]byte, error)
}
