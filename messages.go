package judgewire

import (
	"fmt"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/tai64n"
)

// JudgeRequestBody submits one job (master to worker, CmdReqJudge). All source
// blobs are sealed under the session key.
type JudgeRequestBody struct {
	UUID        uuid.UUID
	MainLang    uuid.UUID
	CheckerLang uuid.UUID
	ManagerLang uuid.UUID
	CheckerCode EncMessage
	MainCode    EncMessage
	ManagerCode EncMessage
	Graders     EncMessage
	MainPath    string
	ObjectPath  string
	TimeLimit   uint64 // per case, in ms
	MemLimit    uint64 // per case, in KB
}

func (b *JudgeRequestBody) EncodeWire(e *Encoder) {
	e.PutUUID(b.UUID)
	e.PutUUID(b.MainLang)
	e.PutUUID(b.CheckerLang)
	e.PutUUID(b.ManagerLang)
	e.PutMessage(&b.CheckerCode)
	e.PutMessage(&b.MainCode)
	e.PutMessage(&b.ManagerCode)
	e.PutMessage(&b.Graders)
	e.PutString(b.MainPath)
	e.PutString(b.ObjectPath)
	e.PutUint64(b.TimeLimit)
	e.PutUint64(b.MemLimit)
}

func (b *JudgeRequestBody) DecodeWire(d *Decoder) {
	b.UUID = d.UUID()
	b.MainLang = d.UUID()
	b.CheckerLang = d.UUID()
	b.ManagerLang = d.UUID()
	d.Message(&b.CheckerCode)
	d.Message(&b.MainCode)
	d.Message(&b.ManagerCode)
	d.Message(&b.Graders)
	b.MainPath = d.Text()
	b.ObjectPath = d.Text()
	b.TimeLimit = d.Uint64()
	b.MemLimit = d.Uint64()
}

// TestCaseUpdateBody reports one judged test case (worker to master). The input
// and the program output are sealed.
type TestCaseUpdateBody struct {
	UUID     uuid.UUID
	TestUUID uuid.UUID
	Stdin    EncMessage
	Stdout   EncMessage
	Result   JudgeState
}

func (b *TestCaseUpdateBody) EncodeWire(e *Encoder) {
	e.PutUUID(b.UUID)
	e.PutUUID(b.TestUUID)
	e.PutMessage(&b.Stdin)
	e.PutMessage(&b.Stdout)
	EncodeJudgeState(e, b.Result)
}

func (b *TestCaseUpdateBody) DecodeWire(d *Decoder) {
	b.UUID = d.UUID()
	b.TestUUID = d.UUID()
	d.Message(&b.Stdin)
	d.Message(&b.Stdout)
	b.Result = DecodeJudgeState(d)
}

// JudgeResponseBody carries a job state (CmdGetJudge, CmdTestCaseEnd).
type JudgeResponseBody struct {
	UUID   uuid.UUID
	Result JudgeState
}

func (b *JudgeResponseBody) EncodeWire(e *Encoder) {
	e.PutUUID(b.UUID)
	EncodeJudgeState(e, b.Result)
}

func (b *JudgeResponseBody) DecodeWire(d *Decoder) {
	b.UUID = d.UUID()
	b.Result = DecodeJudgeState(d)
}

// JudgeQuery asks for the latest state of a job (CmdGetJudgeStateUpdate).
type JudgeQuery struct {
	UUID uuid.UUID
}

func (q *JudgeQuery) EncodeWire(e *Encoder) { e.PutUUID(q.UUID) }
func (q *JudgeQuery) DecodeWire(d *Decoder) { q.UUID = d.UUID() }

// TokenBody asks the worker to verify a user token (CmdVerifyToken).
type TokenBody struct {
	Token EncMessage
}

func (b *TokenBody) EncodeWire(e *Encoder) { e.PutMessage(&b.Token) }
func (b *TokenBody) DecodeWire(d *Decoder) { d.Message(&b.Token) }

// TokenResult answers a TokenBody (CmdReqVerifyToken). Expires is a unix
// timestamp, 0 if the token is invalid.
type TokenResult struct {
	Valid   bool
	Expires int64
}

func (r *TokenResult) EncodeWire(e *Encoder) {
	e.PutBool(r.Valid)
	e.PutInt64(r.Expires)
}

func (r *TokenResult) DecodeWire(d *Decoder) {
	r.Valid = d.Bool()
	r.Expires = d.Int64()
}

// LoginQuery asks for the state of the current session (CmdGetLogin).
type LoginQuery struct{}

func (*LoginQuery) EncodeWire(*Encoder) {}
func (*LoginQuery) DecodeWire(*Decoder) {}

// LoginStatus answers a LoginQuery (CmdReqLogin).
type LoginStatus struct {
	NodeID      uuid.UUID
	Established tai64n.Timestamp
	Locked      bool
	ActiveJobs  uint32
	Languages   []uuid.UUID
}

func (s *LoginStatus) EncodeWire(e *Encoder) {
	e.PutUUID(s.NodeID)
	e.PutFixed(s.Established[:])
	e.PutBool(s.Locked)
	e.PutUint32(s.ActiveJobs)
	e.PutUint64(uint64(len(s.Languages)))
	for _, l := range s.Languages {
		e.PutUUID(l)
	}
}

func (s *LoginStatus) DecodeWire(d *Decoder) {
	s.NodeID = d.UUID()
	d.Fixed(s.Established[:])
	s.Locked = d.Bool()
	s.ActiveJobs = d.Uint32()
	n := d.Uint64()
	if d.Err() != nil {
		return
	}
	if n > uint64(d.Remaining()/16) {
		d.Fail(fmt.Errorf("judgewire: %d languages do not fit in %d bytes", n, d.Remaining()))
		return
	}
	s.Languages = make([]uuid.UUID, n)
	for i := range s.Languages {
		s.Languages[i] = d.UUID()
	}
}

// ProtocolErrorBody reports a discarded packet (CmdUnknown). It is sent in
// clear and never wrapped, since it may concern a packet with no valid session.
type ProtocolErrorBody struct {
	Kind    Kind
	Command Command   // command of the offending packet
	Job     uuid.UUID // job the packet was about, uuid.Nil if unknown
	Message string
}

func (b *ProtocolErrorBody) EncodeWire(e *Encoder) {
	e.PutUint32(uint32(b.Kind))
	e.PutUint32(uint32(b.Command))
	e.PutUUID(b.Job)
	e.PutString(b.Message)
}

func (b *ProtocolErrorBody) DecodeWire(d *Decoder) {
	b.Kind = Kind(d.Uint32())
	b.Command = Command(d.Uint32())
	b.Job = d.UUID()
	b.Message = d.Text()
}

// Err converts the report into an *Error of the same kind.
func (b *ProtocolErrorBody) Err() error {
	return newError(b.Kind, "remote: "+b.Message, nil)
}
