package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/config"
)

// execEngine bridges to a model runner subprocess. One JSON request goes to
// stdin; the runner answers with one JSON object per line on stdout until
// synthesis completes. Reference audio is handed over as a temp WAV file.
type execEngine struct {
	cmd      []string
	cfg      config.EngineConfig
	speakers []string

	mu   sync.Mutex
	seed int64
}

type execRequest struct {
	Op            string  `json:"op"`
	Text          string  `json:"text"`
	SpeakerID     string  `json:"speaker_id,omitempty"`
	ReferenceText string  `json:"reference_text,omitempty"`
	Instruction   string  `json:"instruction,omitempty"`
	ReferenceWAV  string  `json:"reference_wav,omitempty"`
	Streaming     bool    `json:"streaming"`
	Speed         float64 `json:"speed"`
	Seed          int64   `json:"seed"`
	SampleRate    int     `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExec(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	e := &execEngine{cmd: args, cfg: cfg}
	e.speakers = e.querySpeakers()
	return e, nil
}

// querySpeakers asks the runner for its pretrained voice catalog once at
// startup. Any failure degrades to an empty catalog.
func (e *execEngine) querySpeakers() []string {
	base := e.cmd[0]
	args := append(append([]string{}, e.cmd[1:]...), "--list-speakers")
	out, err := exec.Command(base, args...).Output()
	if err != nil {
		return nil
	}
	var speakers []string
	if err := json.Unmarshal(bytes.TrimSpace(out), &speakers); err != nil {
		return nil
	}
	return speakers
}

func (e *execEngine) ListSpeakers() []string {
	return append([]string(nil), e.speakers...)
}

func (e *execEngine) SupportsInstruct() bool { return e.cfg.SupportsInstruct }

func (e *execEngine) SampleRate() int { return e.cfg.SampleRate }

func (e *execEngine) ApplySeed(seed int64) {
	e.mu.Lock()
	e.seed = seed
	e.mu.Unlock()
}

func (e *execEngine) SynthesizeFromSpeaker(ctx context.Context, text, speakerID string, p Params) (<-chan RawChunk, <-chan error) {
	return e.run(ctx, execRequest{Op: "speaker", Text: text, SpeakerID: speakerID}, audio.Clip{}, p)
}

func (e *execEngine) SynthesizeFromReference(ctx context.Context, text, referenceText string, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error) {
	return e.run(ctx, execRequest{Op: "reference", Text: text, ReferenceText: referenceText}, reference, p)
}

func (e *execEngine) SynthesizeCrossLingual(ctx context.Context, text string, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error) {
	return e.run(ctx, execRequest{Op: "crosslingual", Text: text}, reference, p)
}

func (e *execEngine) SynthesizeWithInstruction(ctx context.Context, text, speakerID, instruction string, p Params) (<-chan RawChunk, <-chan error) {
	return e.run(ctx, execRequest{Op: "instruct", Text: text, SpeakerID: speakerID, Instruction: instruction}, audio.Clip{}, p)
}

func (e *execEngine) run(ctx context.Context, req execRequest, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error) {
	e.mu.Lock()
	chunks := make(chan RawChunk)
	errs := make(chan error, 1)

	req.Streaming = p.Streaming
	req.Speed = p.Speed
	req.Seed = e.seed
	req.SampleRate = e.cfg.SampleRate

	go func() {
		defer close(chunks)
		defer close(errs)
		defer e.mu.Unlock()

		if !reference.Empty() {
			file, err := os.CreateTemp("", "voxa_ref_*.wav")
			if err != nil {
				errs <- fmt.Errorf("temp reference file: %w", err)
				return
			}
			file.Close()
			defer os.Remove(file.Name())
			if err := audio.SaveWAV(file.Name(), reference); err != nil {
				errs <- err
				return
			}
			req.ReferenceWAV = file.Name()
		}

		data, err := json.Marshal(req)
		if err != nil {
			errs <- err
			return
		}

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- err
			cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- err
				cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- err
				cmd.Wait()
				return
			}
			clip, err := audio.FromPCM16(pcm, e.cfg.SampleRate)
			if err != nil {
				errs <- err
				cmd.Wait()
				return
			}
			select {
			case chunks <- RawChunk{Samples: clip.Samples}:
			case <-ctx.Done():
				errs <- ctx.Err()
				cmd.Wait()
				return
			}
			if resp.Final {
				break
			}
		}
		if err := cmd.Wait(); err != nil {
			errs <- err
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
		}
	}()

	return chunks, errs
}
