package recognizer

import (
	"context"
	"fmt"

	"github.com/voxalabs/voxa-core/internal/audio"
)

type mockRecognizer struct{}

func NewMock() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, clip audio.Clip) (string, error) {
	return fmt.Sprintf("[transcript duration=%dms]", clip.Duration().Milliseconds()), nil
}
