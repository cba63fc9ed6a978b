package synthesis

import "fmt"

// Severity classifies a diagnostic. Advisory messages inform the caller but
// never stop dispatch; a single Blocking diagnostic does.
type Severity int

const (
	Advisory Severity = iota
	Blocking
)

func (s Severity) String() string {
	if s == Blocking {
		return "blocking"
	}
	return "advisory"
}

// Diagnostic codes, stable across locales; display text is the caller's
// concern.
const (
	CodeTextEmpty               = "text_empty"
	CodeSpeedOutOfRange         = "speed_out_of_range"
	CodeInstructUnsupported     = "instruct_unsupported"
	CodeInstructionEmpty        = "instruction_empty"
	CodeReferenceIgnored        = "reference_ignored"
	CodeCrossLingualUnsupported = "crosslingual_unsupported"
	CodeInstructionIgnored      = "instruction_ignored"
	CodeReferenceMissing        = "reference_missing"
	CodeSampleRateLow           = "sample_rate_low"
	CodeSpeakerMissing          = "speaker_missing"
	CodeReferenceTextEmpty      = "reference_text_empty"
)

type Diagnostic struct {
	Code     string
	Severity Severity
	Message  string
}

// Outcome is the ordered list of diagnostics produced for one request.
type Outcome struct {
	Diagnostics []Diagnostic
}

// CanProceed reports whether dispatch may run: true iff no blocking
// diagnostic fired.
func (o Outcome) CanProceed() bool {
	for _, d := range o.Diagnostics {
		if d.Severity == Blocking {
			return false
		}
	}
	return true
}

// FirstBlocking returns the first blocking diagnostic, for callers that
// surface a single message.
func (o Outcome) FirstBlocking() (Diagnostic, bool) {
	for _, d := range o.Diagnostics {
		if d.Severity == Blocking {
			return d, true
		}
	}
	return Diagnostic{}, false
}

// Capabilities are the engine facts validation depends on, read-only after
// startup.
type Capabilities struct {
	SupportsInstruct bool
	// MinReferenceRate is the lowest acceptable native sample rate for
	// reference audio.
	MinReferenceRate int
}

type Validator struct {
	caps Capabilities
}

func NewValidator(caps Capabilities) *Validator {
	return &Validator{caps: caps}
}

// Validate evaluates every rule for the request's mode, in a fixed order,
// and returns the full diagnostic list. Rules for other modes never run.
func (v *Validator) Validate(req Request) Outcome {
	var out Outcome

	if req.Text == "" {
		out.add(CodeTextEmpty, Blocking, "no text to synthesize")
	}
	if req.Speed < 0.5 || req.Speed > 2.0 {
		out.add(CodeSpeedOutOfRange, Blocking, fmt.Sprintf("speed %.2f outside [0.5, 2.0]", req.Speed))
	}

	switch req.Mode {
	case ModeInstructControl:
		if !v.caps.SupportsInstruct {
			out.add(CodeInstructUnsupported, Blocking, "loaded model does not support instruction control")
		}
		if req.InstructionText == "" {
			out.add(CodeInstructionEmpty, Blocking, "instruction text is empty")
		}
		if req.ReferenceAudio != nil || req.ReferenceText != "" {
			out.add(CodeReferenceIgnored, Advisory, "reference audio and text are ignored in instruction mode")
		}
	case ModeCrossLingual:
		if v.caps.SupportsInstruct {
			out.add(CodeCrossLingualUnsupported, Blocking, "loaded model does not support cross-lingual synthesis")
		}
		if req.InstructionText != "" {
			out.add(CodeInstructionIgnored, Advisory, "instruction text is ignored in cross-lingual mode")
		}
		if req.ReferenceAudio == nil {
			out.add(CodeReferenceMissing, Blocking, "cross-lingual mode requires reference audio")
		} else if req.ReferenceAudio.SampleRate < v.caps.MinReferenceRate {
			out.add(CodeSampleRateLow, Blocking, fmt.Sprintf("reference sample rate %d below required %d", req.ReferenceAudio.SampleRate, v.caps.MinReferenceRate))
		}
	case ModePretrainedVoice:
		if req.InstructionText != "" || req.ReferenceAudio != nil || req.ReferenceText != "" {
			out.add(CodeReferenceIgnored, Advisory, "only the speaker selection is used in pretrained mode")
		}
		if req.SpeakerID == "" {
			out.add(CodeSpeakerMissing, Blocking, "no pretrained speaker selected")
		}
	case ModeFastReplication:
		if req.ReferenceAudio == nil {
			out.add(CodeReferenceMissing, Blocking, "replication mode requires reference audio")
		} else if req.ReferenceAudio.SampleRate < v.caps.MinReferenceRate {
			out.add(CodeSampleRateLow, Blocking, fmt.Sprintf("reference sample rate %d below required %d", req.ReferenceAudio.SampleRate, v.caps.MinReferenceRate))
		}
		if req.ReferenceText == "" {
			out.add(CodeReferenceTextEmpty, Blocking, "reference transcript is empty")
		}
		if req.InstructionText != "" {
			out.add(CodeInstructionIgnored, Advisory, "instruction text is ignored in replication mode")
		}
	}

	return out
}

func (o *Outcome) add(code string, severity Severity, message string) {
	o.Diagnostics = append(o.Diagnostics, Diagnostic{Code: code, Severity: severity, Message: message})
}
