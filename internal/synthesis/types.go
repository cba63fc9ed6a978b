package synthesis

import (
	"fmt"

	"github.com/voxalabs/voxa-core/internal/audio"
)

// Mode selects which synthesis operation a request drives. Exactly one mode
// is active per request; fields irrelevant to it are ignored for dispatch
// but may still raise advisory diagnostics.
type Mode int

const (
	// ModePretrainedVoice synthesizes with a voice profile baked into the
	// engine, selected by speaker id.
	ModePretrainedVoice Mode = iota
	// ModeFastReplication clones a voice from a few seconds of reference
	// audio plus its transcript.
	ModeFastReplication
	// ModeCrossLingual speaks text in another language while keeping the
	// reference voice's identity.
	ModeCrossLingual
	// ModeInstructControl steers style with a natural-language instruction.
	ModeInstructControl
)

var modeNames = map[Mode]string{
	ModePretrainedVoice: "pretrained_voice",
	ModeFastReplication: "fast_replication",
	ModeCrossLingual:    "crosslingual",
	ModeInstructControl: "instruct_control",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return ModePretrainedVoice, fmt.Errorf("unknown synthesis mode %q", s)
}

// Request is the full input to one orchestration call. It is constructed
// fresh per call and never mutated once validation begins.
type Request struct {
	Text            string
	Mode            Mode
	SpeakerID       string
	ReferenceAudio  *audio.Clip
	ReferenceText   string
	InstructionText string
	Seed            int64
	Streaming       bool
	Speed           float64
}

// Chunk is one piece of the response stream, tagged with the engine's
// native sample rate. The last chunk of a stream carries Final=true.
type Chunk struct {
	SampleRate int
	Samples    []float32
	Final      bool
}
