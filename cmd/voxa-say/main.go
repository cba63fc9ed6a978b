package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/protocol"
	"github.com/voxalabs/voxa-core/internal/synthesis"
)

var version = "0.1.0-dev"

type sayOptions struct {
	servers       string
	text          string
	mode          string
	speaker       string
	referencePath string
	referenceText string
	instruction   string
	seed          int64
	speed         float64
	streaming     bool
	output        string
	timeout       time.Duration
}

func main() {
	opts := sayOptions{}
	sayCmd := flag.NewFlagSet("say", flag.ExitOnError)
	sayCmd.StringVar(&opts.servers, "servers", "nats://localhost:4222", "NATS server URLs")
	sayCmd.StringVar(&opts.text, "text", "", "Text to synthesize")
	sayCmd.StringVar(&opts.mode, "mode", "pretrained_voice", "Synthesis mode: pretrained_voice|fast_replication|crosslingual|instruct_control")
	sayCmd.StringVar(&opts.speaker, "speaker", "", "Pretrained speaker id")
	sayCmd.StringVar(&opts.referencePath, "reference", "", "Reference audio WAV file")
	sayCmd.StringVar(&opts.referenceText, "reference-text", "", "Transcript of the reference audio")
	sayCmd.StringVar(&opts.instruction, "instruction", "", "Natural-language style instruction")
	sayCmd.Int64Var(&opts.seed, "seed", 0, "Random seed; 0 draws one")
	sayCmd.Float64Var(&opts.speed, "speed", 1.0, "Speech speed factor")
	sayCmd.BoolVar(&opts.streaming, "streaming", false, "Request a streamed chunk sequence")
	sayCmd.StringVar(&opts.output, "out", "out.wav", "Output WAV file")
	sayCmd.DurationVar(&opts.timeout, "timeout", 60*time.Second, "Overall request timeout")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'say' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "say":
		sayCmd.Parse(os.Args[2:])
		if err := runSay(opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runSay(opts sayOptions) error {
	if opts.text == "" {
		return errors.New("-text must not be empty")
	}

	seed := opts.seed
	if seed == 0 {
		seed = synthesis.GenerateSeed()
		fmt.Fprintf(os.Stderr, "seed: %d\n", seed)
	}

	req := protocol.SynthesisRequest{
		SessionID:       uuid.NewString(),
		Text:            opts.text,
		Mode:            opts.mode,
		SpeakerID:       opts.speaker,
		ReferenceText:   opts.referenceText,
		InstructionText: opts.instruction,
		Seed:            seed,
		Streaming:       opts.streaming,
		Speed:           opts.speed,
	}

	if opts.referencePath != "" {
		clip, err := audio.LoadWAV(opts.referencePath)
		if err != nil {
			return err
		}
		req.ReferencePCM = clip.PCM16()
		req.ReferenceSampleRate = clip.SampleRate
	}

	conn, err := nats.Connect(opts.servers, nats.Name("voxa-say"), nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	audioSub, err := conn.SubscribeSync(protocol.SubjectSynthesisAudioPrefix + "." + req.SessionID)
	if err != nil {
		return fmt.Errorf("subscribe audio: %w", err)
	}
	defer audioSub.Unsubscribe()

	statusSub, err := conn.SubscribeSync(protocol.SubjectSynthesisStatus)
	if err != nil {
		return fmt.Errorf("subscribe status: %w", err)
	}
	defer statusSub.Unsubscribe()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectSynthesisRequest, payload); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}

	deadline := time.Now().Add(opts.timeout)
	var samples []float32
	sampleRate := 0
	nextSequence := 0

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("timed out waiting for audio")
		}

		msg, err := audioSub.NextMsg(remaining)
		if err != nil {
			return fmt.Errorf("receive audio: %w", err)
		}

		var chunk protocol.AudioChunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		if chunk.Sequence != nextSequence {
			return fmt.Errorf("chunk out of order: got %d, want %d", chunk.Sequence, nextSequence)
		}
		nextSequence++

		clip, err := audio.FromPCM16(chunk.PCM, chunk.SampleRate)
		if err != nil {
			return fmt.Errorf("decode chunk pcm: %w", err)
		}
		samples = append(samples, clip.Samples...)
		sampleRate = chunk.SampleRate

		if chunk.Final {
			break
		}
	}

	reportStatus(statusSub, req.SessionID)

	if sampleRate == 0 {
		return errors.New("no audio received")
	}
	clip := audio.Clip{SampleRate: sampleRate, Samples: samples}
	if err := audio.SaveWAV(opts.output, clip); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d samples, %d Hz, %d chunks)\n", opts.output, len(samples), sampleRate, nextSequence)
	return nil
}

// reportStatus prints any diagnostics published for this session. Status
// messages are best-effort; missing ones are not an error.
func reportStatus(sub *nats.Subscription, sessionID string) {
	for {
		msg, err := sub.NextMsg(200 * time.Millisecond)
		if err != nil {
			return
		}
		var status protocol.SynthesisStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil || status.SessionID != sessionID {
			continue
		}
		for _, d := range status.Diagnostics {
			fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", d.Severity, d.Message, d.Code)
		}
		if status.Error != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", status.Error)
		}
		if status.Completed || status.Blocked {
			return
		}
	}
}
