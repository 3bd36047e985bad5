package judgewire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/google/uuid"
)

// ProcessExecutor runs every job through an external sandbox program. The job
// is written to the program's stdin as one JSON object; the program answers
// with one JSON object per line on stdout (see sandboxEvent).
type ProcessExecutor struct {
	Command   string
	Args      []string
	Langs     []uuid.UUID
	maxLineSz int
}

func NewProcessExecutor(command string, args []string, langs []uuid.UUID) *ProcessExecutor {
	return &ProcessExecutor{
		Command:   command,
		Args:      args,
		Langs:     langs,
		maxLineSz: DefaultMaxPacketSize,
	}
}

func (p *ProcessExecutor) Languages() []uuid.UUID { return p.Langs }

type sandboxJob struct {
	UUID        uuid.UUID `json:"uuid"`
	MainLang    uuid.UUID `json:"main_lang"`
	CheckerLang uuid.UUID `json:"checker_lang"`
	ManagerLang uuid.UUID `json:"manager_lang"`
	MainCode    []byte    `json:"main_code"`
	CheckerCode []byte    `json:"checker_code"`
	ManagerCode []byte    `json:"manager_code"`
	Graders     []byte    `json:"graders"`
	MainPath    string    `json:"main_path"`
	ObjectPath  string    `json:"object_path"`
	TimeLimit   uint64    `json:"time_limit"`
	MemLimit    uint64    `json:"mem_limit"`
}

// sandboxEvent is one line of sandbox output. Type is "stage", "test" or
// "final"; State names a JudgeState variant.
type sandboxEvent struct {
	Type     string    `json:"type"`
	State    string    `json:"state"`
	Test     uuid.UUID `json:"test,omitempty"`
	Message  string    `json:"message,omitempty"`
	Stdin    []byte    `json:"stdin,omitempty"`
	Stdout   []byte    `json:"stdout,omitempty"`
	TimeMs   uint64    `json:"time_ms,omitempty"`
	MemKB    uint64    `json:"mem_kb,omitempty"`
	Score    float64   `json:"score,omitempty"`
	ExitCode int32     `json:"exit_code,omitempty"`
	Signal   int32     `json:"signal,omitempty"`
}

// judgeState maps the event to a JudgeState.
func (ev *sandboxEvent) judgeState() (JudgeState, error) {
	switch ev.State {
	case "DoCompile":
		return DoCompile{}, nil
	case "CompleteCompile":
		return CompleteCompile{Output: ev.Message}, nil
	case "Accepted":
		return Accepted{Test: ev.Test, TimeMs: ev.TimeMs, MemKB: ev.MemKB}, nil
	case "Complete":
		return Complete{Test: ev.Test, Score: ev.Score, TimeMs: ev.TimeMs, MemKB: ev.MemKB}, nil
	case "CompileError":
		return CompileError{Message: ev.Message}, nil
	case "RuntimeError":
		return RuntimeError{Test: ev.Test, ExitCode: ev.ExitCode}, nil
	case "DiedOnSignal":
		return DiedOnSignal{Test: ev.Test, Signal: ev.Signal}, nil
	case "InternalError":
		return InternalError{Test: ev.Test}, nil
	case "GeneralError":
		return GeneralError{Message: ev.Message}, nil
	case "UnknownError":
		return UnknownError{}, nil
	case "LanguageNotFound":
		return LanguageNotFound{}, nil
	case "TimeLimitExceeded":
		return TimeLimitExceeded{Test: ev.Test}, nil
	case "MemLimitExceeded":
		return MemLimitExceeded{Test: ev.Test}, nil
	case "WrongAnswer":
		return WrongAnswer{Test: ev.Test, TimeMs: ev.TimeMs, MemKB: ev.MemKB}, nil
	}
	return nil, fmt.Errorf("unknown sandbox state %q", ev.State)
}

// Judge runs the sandbox program for job. A program that exits without a
// "final" line yields InternalError.
func (p *ProcessExecutor) Judge(ctx context.Context, job *Job, r Reporter) JudgeState {
	input, err := json.Marshal(&sandboxJob{
		UUID:        job.UUID,
		MainLang:    job.MainLang,
		CheckerLang: job.CheckerLang,
		ManagerLang: job.ManagerLang,
		MainCode:    job.MainCode,
		CheckerCode: job.CheckerCode,
		ManagerCode: job.ManagerCode,
		Graders:     job.Graders,
		MainPath:    job.MainPath,
		ObjectPath:  job.ObjectPath,
		TimeLimit:   job.TimeLimit,
		MemLimit:    job.MemLimit,
	})
	if err != nil {
		return GeneralError{Message: "failed to encode job"}
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return InternalError{}
	}
	if err := cmd.Start(); err != nil {
		slog.Error("Failed to start sandbox", "command", p.Command, "error", err)
		return InternalError{}
	}

	var final JudgeState
	scanner := bufio.NewScanner(stdout)
	maxLine := p.maxLineSz
	if maxLine == 0 {
		maxLine = DefaultMaxPacketSize
	}
	scanner.Buffer(make([]byte, min(64*1024, maxLine)), maxLine)
	for scanner.Scan() {
		var ev sandboxEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			slog.Warn("Invalid sandbox output", "job", job.UUID, "error", err)
			continue
		}
		state, err := ev.judgeState()
		if err != nil {
			slog.Warn("Invalid sandbox output", "job", job.UUID, "error", err)
			continue
		}

		switch ev.Type {
		case "stage":
			err = r.Stage(state)
		case "test":
			err = r.TestCase(ev.Test, ev.Stdin, ev.Stdout, state)
		case "final":
			final = state
		default:
			slog.Warn("Unknown sandbox event", "job", job.UUID, "type", ev.Type)
		}
		if err != nil {
			slog.Warn("Failed to report progress", "job", job.UUID, "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		// nobody reads stdout any more, so the sandbox would block on a full pipe
		slog.Error("Failed to read sandbox output", "job", job.UUID, "error", err)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return InternalError{}
	}

	if err := cmd.Wait(); err != nil {
		slog.Warn("Sandbox exited with error", "job", job.UUID, "error", err, "stderr", stderr.String())
	}
	if final == nil {
		return InternalError{}
	}
	return final
}
