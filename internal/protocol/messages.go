package protocol

import "time"

// SynthesisRequest is one synthesis job submitted on the bus. Reference
// audio travels as 16-bit little-endian PCM; JSON encodes it base64.
type SynthesisRequest struct {
	SessionID           string  `json:"session_id"`
	Text                string  `json:"text"`
	Mode                string  `json:"mode"`
	SpeakerID           string  `json:"speaker_id,omitempty"`
	ReferencePCM        []byte  `json:"reference_pcm,omitempty"`
	ReferenceSampleRate int     `json:"reference_sample_rate,omitempty"`
	ReferenceText       string  `json:"reference_text,omitempty"`
	InstructionText     string  `json:"instruction_text,omitempty"`
	Seed                int64   `json:"seed"`
	Streaming           bool    `json:"streaming"`
	Speed               float64 `json:"speed"`
}

// AudioChunk is one piece of synthesized audio streamed back to the caller.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Diagnostic mirrors a single validation message.
type Diagnostic struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// SynthesisStatus reports validation diagnostics and stream completion.
type SynthesisStatus struct {
	SessionID   string       `json:"session_id"`
	Blocked     bool         `json:"blocked"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Completed   bool         `json:"completed"`
	Error       string       `json:"error,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// RecognizeRequest asks for a transcript of an uploaded reference clip.
type RecognizeRequest struct {
	SessionID  string `json:"session_id"`
	PCM        []byte `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// RecognizeResponse carries the transcript; empty text when recognition
// failed, which callers treat as "leave the field blank".
type RecognizeResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

const (
	SubjectSynthesisRequest     = "synth.request"
	SubjectSynthesisAudioPrefix = "synth.audio"
	SubjectSynthesisStatus      = "synth.status"
	SubjectRecognize            = "synth.recognize"
)
