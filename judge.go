package judgewire

import (
	"fmt"

	"github.com/google/uuid"
)

// JudgeState is the job lifecycle vocabulary. It is a closed set: every variant
// below, encoded as a u32 index in declaration order followed by its fields.
type JudgeState interface {
	judgeState() uint32
	encodeFields(e *Encoder)
}

type (
	// DoCompile: the job was accepted and compilation started.
	DoCompile struct{}

	// CompleteCompile carries the compiler output of a successful build.
	CompleteCompile struct{ Output string }

	Accepted struct {
		Test   uuid.UUID
		TimeMs uint64
		MemKB  uint64
	}

	// Complete is a scored (partial credit) result.
	Complete struct {
		Test   uuid.UUID
		Score  float64
		TimeMs uint64
		MemKB  uint64
	}

	CompileError struct{ Message string }

	// RuntimeError is a non-zero exit code.
	RuntimeError struct {
		Test     uuid.UUID
		ExitCode int32
	}

	DiedOnSignal struct {
		Test   uuid.UUID
		Signal int32
	}

	// InternalError means the worker failed to judge the test.
	InternalError struct{ Test uuid.UUID }

	GeneralError struct{ Message string }

	UnknownError struct{}

	LanguageNotFound struct{}

	TimeLimitExceeded struct{ Test uuid.UUID }

	MemLimitExceeded struct{ Test uuid.UUID }

	WrongAnswer struct {
		Test   uuid.UUID
		TimeMs uint64
		MemKB  uint64
	}

	LockedSlave struct{}

	UnlockedSlave struct{}

	JudgeNotFound struct{}
)

func (DoCompile) judgeState() uint32         { return 0 }
func (CompleteCompile) judgeState() uint32   { return 1 }
func (Accepted) judgeState() uint32          { return 2 }
func (Complete) judgeState() uint32          { return 3 }
func (CompileError) judgeState() uint32      { return 4 }
func (RuntimeError) judgeState() uint32      { return 5 }
func (DiedOnSignal) judgeState() uint32      { return 6 }
func (InternalError) judgeState() uint32     { return 7 }
func (GeneralError) judgeState() uint32      { return 8 }
func (UnknownError) judgeState() uint32      { return 9 }
func (LanguageNotFound) judgeState() uint32  { return 10 }
func (TimeLimitExceeded) judgeState() uint32 { return 11 }
func (MemLimitExceeded) judgeState() uint32  { return 12 }
func (WrongAnswer) judgeState() uint32       { return 13 }
func (LockedSlave) judgeState() uint32       { return 14 }
func (UnlockedSlave) judgeState() uint32     { return 15 }
func (JudgeNotFound) judgeState() uint32     { return 16 }

func (DoCompile) encodeFields(*Encoder)        {}
func (LanguageNotFound) encodeFields(*Encoder) {}
func (UnknownError) encodeFields(*Encoder)     {}
func (LockedSlave) encodeFields(*Encoder)      {}
func (UnlockedSlave) encodeFields(*Encoder)    {}
func (JudgeNotFound) encodeFields(*Encoder)    {}

func (s CompleteCompile) encodeFields(e *Encoder)  { e.PutString(s.Output) }
func (s *CompleteCompile) decodeFields(d *Decoder) { s.Output = d.Text() }

func (s CompileError) encodeFields(e *Encoder)  { e.PutString(s.Message) }
func (s *CompileError) decodeFields(d *Decoder) { s.Message = d.Text() }

func (s GeneralError) encodeFields(e *Encoder)  { e.PutString(s.Message) }
func (s *GeneralError) decodeFields(d *Decoder) { s.Message = d.Text() }

func (s Accepted) encodeFields(e *Encoder) {
	e.PutUUID(s.Test)
	e.PutUint64(s.TimeMs)
	e.PutUint64(s.MemKB)
}

func (s *Accepted) decodeFields(d *Decoder) {
	s.Test = d.UUID()
	s.TimeMs = d.Uint64()
	s.MemKB = d.Uint64()
}

func (s WrongAnswer) encodeFields(e *Encoder) {
	e.PutUUID(s.Test)
	e.PutUint64(s.TimeMs)
	e.PutUint64(s.MemKB)
}

func (s *WrongAnswer) decodeFields(d *Decoder) {
	s.Test = d.UUID()
	s.TimeMs = d.Uint64()
	s.MemKB = d.Uint64()
}

func (s Complete) encodeFields(e *Encoder) {
	e.PutUUID(s.Test)
	e.PutFloat64(s.Score)
	e.PutUint64(s.TimeMs)
	e.PutUint64(s.MemKB)
}

func (s *Complete) decodeFields(d *Decoder) {
	s.Test = d.UUID()
	s.Score = d.Float64()
	s.TimeMs = d.Uint64()
	s.MemKB = d.Uint64()
}

func (s RuntimeError) encodeFields(e *Encoder) {
	e.PutUUID(s.Test)
	e.PutInt32(s.ExitCode)
}

func (s *RuntimeError) decodeFields(d *Decoder) {
	s.Test = d.UUID()
	s.ExitCode = d.Int32()
}

func (s DiedOnSignal) encodeFields(e *Encoder) {
	e.PutUUID(s.Test)
	e.PutInt32(s.Signal)
}

func (s *DiedOnSignal) decodeFields(d *Decoder) {
	s.Test = d.UUID()
	s.Signal = d.Int32()
}

func (s InternalError) encodeFields(e *Encoder)      { e.PutUUID(s.Test) }
func (s *InternalError) decodeFields(d *Decoder)     { s.Test = d.UUID() }
func (s TimeLimitExceeded) encodeFields(e *Encoder)  { e.PutUUID(s.Test) }
func (s *TimeLimitExceeded) decodeFields(d *Decoder) { s.Test = d.UUID() }
func (s MemLimitExceeded) encodeFields(e *Encoder)   { e.PutUUID(s.Test) }
func (s *MemLimitExceeded) decodeFields(d *Decoder)  { s.Test = d.UUID() }

// EncodeJudgeState writes the variant index followed by the variant's fields.
func EncodeJudgeState(e *Encoder, s JudgeState) {
	if s == nil {
		s = UnknownError{}
	}
	e.PutUint32(s.judgeState())
	s.encodeFields(e)
}

// DecodeJudgeState reads a JudgeState. Unknown indexes fail the decoder.
func DecodeJudgeState(d *Decoder) JudgeState {
	tag := d.Uint32()
	if d.Err() != nil {
		return nil
	}

	switch tag {
	case 0:
		return DoCompile{}
	case 1:
		var s CompleteCompile
		s.decodeFields(d)
		return s
	case 2:
		var s Accepted
		s.decodeFields(d)
		return s
	case 3:
		var s Complete
		s.decodeFields(d)
		return s
	case 4:
		var s CompileError
		s.decodeFields(d)
		return s
	case 5:
		var s RuntimeError
		s.decodeFields(d)
		return s
	case 6:
		var s DiedOnSignal
		s.decodeFields(d)
		return s
	case 7:
		var s InternalError
		s.decodeFields(d)
		return s
	case 8:
		var s GeneralError
		s.decodeFields(d)
		return s
	case 9:
		return UnknownError{}
	case 10:
		return LanguageNotFound{}
	case 11:
		var s TimeLimitExceeded
		s.decodeFields(d)
		return s
	case 12:
		var s MemLimitExceeded
		s.decodeFields(d)
		return s
	case 13:
		var s WrongAnswer
		s.decodeFields(d)
		return s
	case 14:
		return LockedSlave{}
	case 15:
		return UnlockedSlave{}
	case 16:
		return JudgeNotFound{}
	}

	d.Fail(fmt.Errorf("judgewire: unknown judge state %d", tag))
	return nil
}
