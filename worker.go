package judgewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTimeout bounds a single token verification.
const DefaultTokenTimeout = 5 * time.Second

// TokenVerifier checks user tokens on behalf of masters.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (expires time.Time, err error)
}

// WorkerOptions configures a Worker. Zero values select the defaults.
type WorkerOptions struct {
	Credentials      CredentialStore
	Executor         Executor
	Tokens           TokenVerifier // nil rejects every token
	Sessions         *SessionTable // nil creates a private table
	MaxPacketSize    uint32
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	OutboundQueue    int
}

// Worker is the judging side of the protocol: it authenticates masters, runs
// their jobs through an Executor and streams results back.
type Worker struct {
	handshaker *Handshaker
	sessions   *SessionTable
	executor   Executor
	tokens     TokenVerifier

	maxPacketSize    uint32
	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	outboundQueue    int

	locked atomic.Bool

	jobs   map[uuid.UUID]*jobRecord
	jobsMu sync.RWMutex

	// Stats for diagnostics using atomic operations
	stats struct {
		handshakesProcessed atomic.Uint64
		handshakesFailed    atomic.Uint64
		packetsProcessed    atomic.Uint64
		jobsAccepted        atomic.Uint64
		jobsCompleted       atomic.Uint64
		errorCount          atomic.Uint64
	}
}

// jobRecord holds the latest state of a job. Every state change and every
// state report for the job goes through update or report, so the master sees
// the job's GetJudge packets in state order whether they are pushes or replies.
type jobRecord struct {
	owner uuid.UUID
	mu    sync.Mutex
	state JudgeState
}

// update sets the state and queues the packet send builds for it.
func (j *jobRecord) update(s JudgeState, send func(JudgeState) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	return send(s)
}

// report queues the packet send builds for the current state.
func (j *jobRecord) report(send func(JudgeState) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return send(j.state)
}

// jobError ties a rejected request to the job it named.
type jobError struct {
	job uuid.UUID
	err error
}

func (e *jobError) Error() string { return e.err.Error() }

func (e *jobError) Unwrap() error { return e.err }

// NewWorker creates a worker. Credentials and Executor are required.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Credentials == nil {
		return nil, errors.New("worker needs a credential store")
	}
	if opts.Executor == nil {
		return nil, errors.New("worker needs an executor")
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionTable()
	}

	w := &Worker{
		handshaker:       NewHandshaker(opts.Credentials, sessions),
		sessions:         sessions,
		executor:         opts.Executor,
		tokens:           opts.Tokens,
		maxPacketSize:    opts.MaxPacketSize,
		handshakeTimeout: opts.HandshakeTimeout,
		idleTimeout:      opts.IdleTimeout,
		outboundQueue:    opts.OutboundQueue,
		jobs:             make(map[uuid.UUID]*jobRecord),
	}
	if w.maxPacketSize == 0 {
		w.maxPacketSize = DefaultMaxPacketSize
	}
	if w.handshakeTimeout <= 0 {
		w.handshakeTimeout = DefaultHandshakeTimeout
	}
	if w.idleTimeout <= 0 {
		w.idleTimeout = DefaultIdleTimeout
	}
	return w, nil
}

// Sessions returns the worker's session table.
func (w *Worker) Sessions() *SessionTable { return w.sessions }

// Lock makes the worker refuse new jobs with LockedSlave. Running jobs finish.
func (w *Worker) Lock() {
	if !w.locked.Swap(true) {
		slog.Info("Worker locked")
	}
}

func (w *Worker) Unlock() {
	if w.locked.Swap(false) {
		slog.Info("Worker unlocked")
	}
}

func (w *Worker) Locked() bool { return w.locked.Load() }

// ActiveJobs returns the number of jobs that have not reached a final state.
func (w *Worker) ActiveJobs() int {
	return int(w.stats.jobsAccepted.Load() - w.stats.jobsCompleted.Load())
}

// Stats returns counters for the stats endpoint.
func (w *Worker) Stats() map[string]any {
	return map[string]any{
		"sessions_count":       w.sessions.Count(),
		"sessions_created":     w.sessions.Created(),
		"handshakes_processed": w.stats.handshakesProcessed.Load(),
		"handshakes_failed":    w.stats.handshakesFailed.Load(),
		"packets_processed":    w.stats.packetsProcessed.Load(),
		"jobs_accepted":        w.stats.jobsAccepted.Load(),
		"jobs_completed":       w.stats.jobsCompleted.Load(),
		"jobs_active":          w.ActiveJobs(),
		"errors":               w.stats.errorCount.Load(),
		"locked":               w.Locked(),
		"timestamp":            Now().UnixMilli(),
	}
}

// NewConn wraps nc with the worker's framing limits.
func (w *Worker) NewConn(nc net.Conn) *Conn {
	return NewConn(nc, w.maxPacketSize, w.outboundQueue)
}

// ServeConn runs one master connection until it closes or ctx is done. The
// session it establishes and the jobs it submitted die with it.
func (w *Worker) ServeConn(ctx context.Context, conn *Conn, connIndex int) {
	ctx, cancel := context.WithCancel(ctx)
	cs := &connState{w: w, conn: conn, index: connIndex, ctx: ctx}

	defer func() {
		cancel()
		conn.Close()
		cs.jobs.Wait()
		cs.cleanup()
		slog.Info("Connection reader exiting", "connIndex", connIndex)
	}()

	if err := conn.SetReadDeadline(time.Now().Add(w.handshakeTimeout)); err != nil {
		slog.Error("Failed to set handshake deadline", "connIndex", connIndex, "error", err)
		return
	}

	err := conn.Serve(ctx, cs.handle)
	if !Closed(err) {
		slog.Error("Error on connection, closing", "connIndex", connIndex, "error", err)
	}
}

// connState is the per-connection part of the worker. handle only ever runs on
// the connection's read goroutine.
type connState struct {
	w     *Worker
	conn  *Conn
	index int
	ctx   context.Context

	session *Session
	owned   []uuid.UUID // jobs submitted on this connection
	jobs    sync.WaitGroup
}

func (cs *connState) cleanup() {
	if cs.session == nil {
		return
	}

	cs.w.jobsMu.Lock()
	for _, id := range cs.owned {
		delete(cs.w.jobs, id)
	}
	cs.w.jobsMu.Unlock()

	cs.w.sessions.Remove(cs.session.NodeID)
	slog.Info("Session closed", "nodeID", cs.session.NodeID, "connIndex", cs.index)
}

func (cs *connState) handle(p *Packet) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("PANIC in packet handler", "panic", rec, "connIndex", cs.index)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	cs.w.stats.packetsProcessed.Add(1)
	cmd := p.Header.Command

	if cs.session == nil {
		if cmd != CmdHandshake {
			return cs.reject(cmd, newError(KindAuthFailure, "no session", nil))
		}
		return cs.handshake(p.Body)
	}

	if err := cs.conn.SetReadDeadline(time.Now().Add(cs.w.idleTimeout)); err != nil {
		return err
	}

	switch cmd {
	case CmdVerifyToken:
		err = cs.verifyToken(p.Body)
	case CmdGetLogin:
		err = cs.login(p.Body)
	case CmdReqJudge:
		err = cs.reqJudge(p.Body)
	case CmdGetJudgeStateUpdate:
		err = cs.queryJudge(p.Body)
	case CmdHandshake:
		err = newError(KindGeneral, "session already established", nil)
	default:
		err = newError(KindUnknownCommand, cmd.String(), nil)
	}
	return cs.reject(cmd, err)
}

// reject answers a failed request with a protocol error and keeps the
// connection, unless the error is fatal for it.
func (cs *connState) reject(cmd Command, err error) error {
	if err == nil {
		return nil
	}
	cs.w.stats.errorCount.Add(1)

	kind := KindOf(err)
	if kind.Fatal() {
		return err
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, net.ErrClosed) {
		return err
	}

	var job uuid.UUID
	var je *jobError
	if errors.As(err, &je) {
		job = je.job
	}

	slog.Warn("Rejected packet", "command", cmd, "kind", kind, "connIndex", cs.index, "error", err)
	return cs.conn.WriteMessage(CmdUnknown, &ProtocolErrorBody{
		Kind:    kind,
		Command: cmd,
		Job:     job,
		Message: kind.String(),
	})
}

func (cs *connState) handshake(body []byte) error {
	cs.w.stats.handshakesProcessed.Add(1)

	resp, s, err := cs.w.handshaker.Accept(cs.ctx, body)
	if werr := cs.conn.WriteMessage(CmdHandshake, resp); werr != nil {
		if s != nil {
			cs.w.sessions.Remove(s.NodeID)
		}
		return werr
	}

	if err != nil {
		cs.w.stats.handshakesFailed.Add(1)
		slog.Warn("Handshake failed", "connIndex", cs.index, "result", resp.Result, "error", err)
		if errors.Is(err, ErrPasswordMismatch) {
			return err
		}
		return nil
	}

	cs.session = s
	slog.Info("Handshake completed", "nodeID", s.NodeID, "connIndex", cs.index)
	return cs.conn.SetReadDeadline(time.Now().Add(cs.w.idleTimeout))
}

// unwrap authenticates a request body and checks that it belongs to this
// connection's own session.
func unwrap[T Message](cs *connState, body []byte, payload T) (T, error) {
	s, payload, err := Unwrap(cs.w.sessions, body, payload)
	if err != nil {
		return payload, err
	}
	if s != cs.session {
		return payload, newError(KindAuthFailure, "session owned by another connection", nil)
	}
	return payload, nil
}

func (cs *connState) reply(cmd Command, payload Message) error {
	return cs.conn.WritePacket(cmd, Wrap(cs.session, payload).Bytes())
}

func (cs *connState) verifyToken(body []byte) error {
	req, err := unwrap(cs, body, &TokenBody{})
	if err != nil {
		return err
	}
	token, err := req.Token.Open(&cs.session.Key)
	if err != nil {
		return err
	}

	result := &TokenResult{}
	if cs.w.tokens != nil {
		ctx, cancel := context.WithTimeout(cs.ctx, DefaultTokenTimeout)
		expires, err := cs.w.tokens.VerifyToken(ctx, string(token))
		cancel()
		if err != nil {
			slog.Warn("Token rejected", "nodeID", cs.session.NodeID, "error", err)
		} else if expires.After(Now()) {
			result.Valid = true
			result.Expires = expires.Unix()
		}
	}
	return cs.reply(CmdReqVerifyToken, result)
}

func (cs *connState) login(body []byte) error {
	if _, err := unwrap(cs, body, &LoginQuery{}); err != nil {
		return err
	}
	return cs.reply(CmdReqLogin, &LoginStatus{
		NodeID:      cs.session.NodeID,
		Established: cs.session.Established,
		Locked:      cs.w.Locked(),
		ActiveJobs:  uint32(cs.w.ActiveJobs()),
		Languages:   cs.w.executor.Languages(),
	})
}

func (cs *connState) reqJudge(body []byte) error {
	req, err := unwrap(cs, body, &JudgeRequestBody{})
	if err != nil {
		return err
	}

	if cs.w.Locked() {
		return cs.reply(CmdGetJudge, &JudgeResponseBody{UUID: req.UUID, Result: LockedSlave{}})
	}

	job, err := openJob(&cs.session.Key, req)
	if err != nil {
		return &jobError{job: req.UUID, err: err}
	}

	rec := &jobRecord{owner: cs.session.NodeID, state: DoCompile{}}
	cs.w.jobsMu.Lock()
	if _, exists := cs.w.jobs[job.UUID]; exists {
		cs.w.jobsMu.Unlock()
		return cs.reply(CmdGetJudge, &JudgeResponseBody{
			UUID:   job.UUID,
			Result: GeneralError{Message: "duplicate job id"},
		})
	}
	cs.w.jobs[job.UUID] = rec
	cs.w.jobsMu.Unlock()
	cs.owned = append(cs.owned, job.UUID)
	cs.w.stats.jobsAccepted.Add(1)

	if err := cs.reply(CmdGetJudge, &JudgeResponseBody{UUID: job.UUID, Result: DoCompile{}}); err != nil {
		cs.w.stats.jobsCompleted.Add(1)
		return err
	}

	slog.Info("Job accepted", "job", job.UUID, "nodeID", cs.session.NodeID)
	cs.jobs.Add(1)
	go cs.run(job, rec)
	return nil
}

// run executes job and pushes its progress through the outbound queue.
func (cs *connState) run(job *Job, rec *jobRecord) {
	defer cs.jobs.Done()
	defer cs.w.stats.jobsCompleted.Add(1)

	r := &jobReporter{cs: cs, job: job.UUID, rec: rec}
	final := func() (s JudgeState) {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("PANIC in executor", "panic", p, "job", job.UUID)
				debug.PrintStack()
				s = InternalError{}
			}
		}()
		return cs.w.executor.Judge(cs.ctx, job, r)
	}()
	if final == nil {
		final = UnknownError{}
	}

	err := rec.update(final, func(s JudgeState) error {
		return r.push(CmdTestCaseEnd, &JudgeResponseBody{UUID: job.UUID, Result: s})
	})
	if err != nil {
		slog.Warn("Failed to report job result", "job", job.UUID, "error", err)
		return
	}
	slog.Info("Job finished", "job", job.UUID, "result", fmt.Sprintf("%T", final))
}

func (cs *connState) queryJudge(body []byte) error {
	q, err := unwrap(cs, body, &JudgeQuery{})
	if err != nil {
		return err
	}

	cs.w.jobsMu.RLock()
	rec, ok := cs.w.jobs[q.UUID]
	cs.w.jobsMu.RUnlock()
	if !ok || rec.owner != cs.session.NodeID {
		return cs.reply(CmdGetJudge, &JudgeResponseBody{UUID: q.UUID, Result: JudgeNotFound{}})
	}

	// queued behind the job's own pushes
	return rec.report(func(s JudgeState) error {
		return cs.conn.Enqueue(CmdGetJudge, Wrap(cs.session, &JudgeResponseBody{UUID: q.UUID, Result: s}).Bytes())
	})
}

type jobReporter struct {
	cs  *connState
	job uuid.UUID
	rec *jobRecord
}

func (r *jobReporter) push(cmd Command, payload Message) error {
	return r.cs.conn.Enqueue(cmd, Wrap(r.cs.session, payload).Bytes())
}

func (r *jobReporter) Stage(state JudgeState) error {
	return r.rec.update(state, func(s JudgeState) error {
		return r.push(CmdGetJudge, &JudgeResponseBody{UUID: r.job, Result: s})
	})
}

func (r *jobReporter) TestCase(test uuid.UUID, stdin, stdout []byte, result JudgeState) error {
	key := &r.cs.session.Key
	in, err := Seal(key, stdin)
	if err != nil {
		return err
	}
	out, err := Seal(key, stdout)
	if err != nil {
		return err
	}

	return r.rec.update(result, func(s JudgeState) error {
		return r.push(CmdTestCaseUpdate, &TestCaseUpdateBody{
			UUID:     r.job,
			TestUUID: test,
			Stdin:    *in,
			Stdout:   *out,
			Result:   s,
		})
	})
}
