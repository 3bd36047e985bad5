package judgewire

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultEventBuffer sizes the channel of pushed job events.
const DefaultEventBuffer = 64

// Event is a job update pushed by the worker outside of any request.
type Event struct {
	Command Command
	Job     uuid.UUID
	// State is the job state carried by the push. For CmdTestCaseEnd it is
	// final.
	State JudgeState
	// TestCase is set for CmdTestCaseUpdate. Its Stdin and Stdout are still
	// sealed; see Client.Open.
	TestCase *TestCaseUpdateBody
}

// Client is the master side of a judge connection.
type Client struct {
	conn      *Conn
	session   *Session
	responses *ResponseHandler
	events    chan Event

	// jobs submitted on this connection that have not ended yet
	running   map[uuid.UUID]struct{}
	runningMu sync.Mutex

	done chan struct{}
	err  error
}

// Dial connects to a worker and runs the handshake. A nil tlsConfig selects
// plain TCP.
func Dial(ctx context.Context, addr, password string, tlsConfig *tls.Config) (*Client, error) {
	var (
		nc  net.Conn
		err error
	)
	if tlsConfig != nil {
		d := &tls.Dialer{Config: tlsConfig}
		nc, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		nc, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker: %w", err)
	}

	c, err := NewClient(ctx, nc, password)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the handshake over nc and starts reading replies. On a
// password mismatch the error matches ErrPasswordMismatch.
func NewClient(ctx context.Context, nc net.Conn, password string) (*Client, error) {
	conn := NewConn(nc, 0, 0)

	hs, err := NewClientHandshake(password)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	} else {
		_ = nc.SetDeadline(time.Now().Add(DefaultHandshakeTimeout))
	}

	if err := conn.WriteMessage(CmdHandshake, hs.Request()); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	p, err := conn.ReadPacket()
	if err != nil {
		return nil, err
	}
	if p.Header.Command != CmdHandshake {
		return nil, newError(KindGeneral, "unexpected "+p.Header.Command.String()+" during handshake", nil)
	}
	var resp HandshakeResponse
	if err := Unmarshal(p.Body, &resp); err != nil {
		return nil, newError(KindGeneral, "decode handshake response", err)
	}
	session, err := hs.Finish(&resp)
	if err != nil {
		return nil, err
	}

	_ = nc.SetDeadline(time.Time{})

	c := &Client{
		conn:      conn,
		session:   session,
		responses: NewResponseHandler(),
		events:    make(chan Event, DefaultEventBuffer),
		running:   make(map[uuid.UUID]struct{}),
		done:      make(chan struct{}),
	}

	go func() {
		err := conn.Serve(context.Background(), c.handle)
		if Closed(err) {
			err = net.ErrClosed
		}
		c.err = err
		c.responses.closeAll(err)
		close(c.events)
		close(c.done)
	}()

	slog.Info("Connected to worker", "nodeID", session.NodeID)
	return c, nil
}

// Session returns the session negotiated with the worker.
func (c *Client) Session() *Session { return c.session }

// Events delivers job pushes. It is closed when the connection ends. The
// channel must be drained, or replies stop being read.
func (c *Client) Events() <-chan Event { return c.events }

// Open decrypts a field sealed by the worker.
func (c *Client) Open(m *EncMessage) ([]byte, error) {
	return m.Open(&c.session.Key)
}

// Done is closed when the connection ends; Err then returns the cause.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// VerifyToken asks the worker whether token is valid.
func (c *Client) VerifyToken(ctx context.Context, token string) (*TokenResult, error) {
	sealed, err := Seal(&c.session.Key, []byte(token))
	if err != nil {
		return nil, err
	}
	res := &TokenResult{}
	if err := c.roundTrip(ctx, CmdVerifyToken, uuid.Nil, &TokenBody{Token: *sealed}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Login returns the worker's view of this session.
func (c *Client) Login(ctx context.Context) (*LoginStatus, error) {
	res := &LoginStatus{}
	if err := c.roundTrip(ctx, CmdGetLogin, uuid.Nil, &LoginQuery{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SubmitJudge seals the sources of job and submits it. The returned state is
// DoCompile when the job was accepted; further progress arrives as events. A
// job id can't be resubmitted until its TestCaseEnd event.
func (c *Client) SubmitJudge(ctx context.Context, job *Job) (JudgeState, error) {
	req, err := sealJob(&c.session.Key, job)
	if err != nil {
		return nil, err
	}

	c.runningMu.Lock()
	if _, ok := c.running[job.UUID]; ok {
		c.runningMu.Unlock()
		return nil, newError(KindGeneral, "job "+job.UUID.String()+" is still running", nil)
	}
	c.running[job.UUID] = struct{}{}
	c.runningMu.Unlock()

	res := &JudgeResponseBody{}
	if err := c.roundTrip(ctx, CmdReqJudge, job.UUID, req, res); err != nil {
		c.jobEnded(job.UUID)
		return nil, err
	}
	if _, ok := res.Result.(DoCompile); !ok {
		c.jobEnded(job.UUID)
	}
	return res.Result, nil
}

func (c *Client) jobEnded(job uuid.UUID) {
	c.runningMu.Lock()
	delete(c.running, job)
	c.runningMu.Unlock()
}

// QueryJudge returns the latest known state of a job, JudgeNotFound if the
// worker has no such job for this session. The worker orders a job's state
// pushes and query replies, so a stage push that arrives first answers the
// query with a state at least as recent.
func (c *Client) QueryJudge(ctx context.Context, job uuid.UUID) (JudgeState, error) {
	res := &JudgeResponseBody{}
	if err := c.roundTrip(ctx, CmdGetJudgeStateUpdate, job, &JudgeQuery{UUID: job}, res); err != nil {
		return nil, err
	}
	return res.Result, nil
}

func (c *Client) roundTrip(ctx context.Context, cmd Command, job uuid.UUID, req, res Message) error {
	reply := cmd.Reply()
	w := c.responses.register(reply, job)

	if err := c.conn.WritePacket(cmd, Wrap(c.session, req).Bytes()); err != nil {
		c.responses.cancel(reply, w)
		return err
	}

	select {
	case r := <-w.ch:
		if r.err != nil {
			return r.err
		}
		if _, _, err := Unwrap(singleSession{c.session}, r.body, res); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		c.responses.cancel(reply, w)
		return ctx.Err()
	}
}

// handle runs on the read goroutine. It never answers the worker, so a
// misbehaving peer can't start a ping-pong of error replies.
func (c *Client) handle(p *Packet) error {
	cmd := p.Header.Command
	body := append([]byte(nil), p.Body...)

	switch cmd {
	case CmdReqVerifyToken, CmdReqLogin:
		if !c.responses.deliver(cmd, uuid.Nil, body) {
			slog.Warn("Unsolicited reply from worker", "command", cmd)
		}

	case CmdGetJudge, CmdTestCaseEnd:
		_, res, err := Unwrap(singleSession{c.session}, body, &JudgeResponseBody{})
		if err != nil {
			slog.Warn("Dropping invalid push from worker", "command", cmd, "error", err)
			return nil
		}
		if cmd == CmdTestCaseEnd {
			c.jobEnded(res.UUID)
		}
		if cmd == CmdGetJudge && c.responses.deliver(cmd, res.UUID, body) {
			return nil
		}
		return c.emit(Event{Command: cmd, Job: res.UUID, State: res.Result})

	case CmdTestCaseUpdate:
		_, res, err := Unwrap(singleSession{c.session}, body, &TestCaseUpdateBody{})
		if err != nil {
			slog.Warn("Dropping invalid push from worker", "command", cmd, "error", err)
			return nil
		}
		return c.emit(Event{Command: cmd, Job: res.UUID, State: res.Result, TestCase: res})

	case CmdUnknown:
		var pe ProtocolErrorBody
		if err := Unmarshal(body, &pe); err != nil {
			slog.Warn("Malformed error report from worker", "error", err)
			return nil
		}
		if !c.responses.fail(pe.Command.Reply(), pe.Job, pe.Err()) {
			slog.Warn("Worker reported an error", "command", pe.Command, "kind", pe.Kind)
		}

	default:
		slog.Warn("Unhandled command from worker", "command", cmd)
	}
	return nil
}

func (c *Client) emit(ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.conn.Done():
		return net.ErrClosed
	}
}
