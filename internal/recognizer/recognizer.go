package recognizer

import (
	"context"

	"github.com/voxalabs/voxa-core/internal/audio"
)

// Recognizer turns an uploaded reference clip into a transcript, used only
// to prefill the reference-text field. Failures are never fatal to a
// synthesis request; callers fall back to an empty transcript.
type Recognizer interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}
