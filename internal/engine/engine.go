package engine

import (
	"context"

	"github.com/voxalabs/voxa-core/internal/audio"
)

// RawChunk is one piece of synthesized audio as emitted by the engine,
// before the dispatcher tags it with sample rate and final flag.
type RawChunk struct {
	Samples []float32
}

// Params carries the knobs shared by every synthesis operation.
type Params struct {
	Streaming bool
	Speed     float64
}

// Engine is the contract for the underlying text-to-speech model.
// Implementations stream chunks on the first channel and report at most one
// terminal error on the second; both channels close when synthesis ends.
// The engine's random state is global: ApplySeed must not run while another
// synthesis call is being started.
type Engine interface {
	SynthesizeFromSpeaker(ctx context.Context, text, speakerID string, p Params) (<-chan RawChunk, <-chan error)
	SynthesizeFromReference(ctx context.Context, text, referenceText string, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error)
	SynthesizeCrossLingual(ctx context.Context, text string, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error)
	SynthesizeWithInstruction(ctx context.Context, text, speakerID, instruction string, p Params) (<-chan RawChunk, <-chan error)

	// ListSpeakers reports the pretrained voice catalog. An empty list is
	// valid; speaker-dependent modes then degrade to a placeholder entry.
	ListSpeakers() []string
	SupportsInstruct() bool
	SampleRate() int
	ApplySeed(seed int64)
}
