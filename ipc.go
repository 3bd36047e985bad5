package judgewire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type outbound struct {
	cmd  Command
	body []byte
}

// Conn is a framed judge connection. Packets can be written from any goroutine,
// either directly with WritePacket or through the outbound queue with Enqueue.
// Reads happen on a single goroutine.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	scratch []byte
	maxBody uint32

	wrlk sync.Mutex
	wrbf []byte

	outq      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps conn. maxBody bounds incoming packets (0 for the default) and
// queue sizes the outbound queue (0 for the default).
func NewConn(conn net.Conn, maxBody uint32, queue int) *Conn {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetReadBuffer(ReceiveBufferSize)
		_ = tcpConn.SetWriteBuffer(SendBufferSize)
	}
	if queue <= 0 {
		queue = DefaultOutboundQueue
	}

	return &Conn{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, ReceiveBufferSize),
		scratch: make([]byte, ReusableBufferSize),
		maxBody: maxBody,
		wrbf:    make([]byte, 0, SendBufferSize),
		outq:    make(chan outbound, queue),
		done:    make(chan struct{}),
	}
}

// WritePacket frames body under cmd and writes it in one piece.
func (c *Conn) WritePacket(cmd Command, body []byte) error {
	p := NewPacket(cmd, body)

	c.wrlk.Lock()
	defer c.wrlk.Unlock()

	var hdr [HeaderSize]byte
	p.Header.put(hdr[:])
	if err := c.write(hdr[:]); err != nil {
		return err
	}
	if err := c.write(p.Body); err != nil {
		return err
	}
	if err := c.write(p.Digest[:]); err != nil {
		return err
	}
	return c.flush()
}

// WriteMessage is WritePacket with the canonical encoding of m.
func (c *Conn) WriteMessage(cmd Command, m Message) error {
	return c.WritePacket(cmd, Marshal(m))
}

func (c *Conn) write(b []byte) error {
	for len(b) > 0 {
		r := cap(c.wrbf) - len(c.wrbf)
		if r == 0 {
			if err := c.flush(); err != nil {
				return err
			}
			continue
		}
		n := min(r, len(b))
		c.wrbf = append(c.wrbf, b[:n]...)
		b = b[n:]
	}
	return nil
}

// flush expects wrlk to be held.
func (c *Conn) flush() error {
	b := c.wrbf
	c.wrbf = c.wrbf[:0]

	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			c.conn.Close() // give up on this connection
			return err
		}
		b = b[n:]
	}
	return nil
}

// Enqueue hands a packet to the outbound queue. It blocks while the queue is
// full and fails once the connection is closed.
func (c *Conn) Enqueue(cmd Command, body []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	select {
	case c.outq <- outbound{cmd: cmd, body: body}:
		return nil
	case <-c.done:
		return net.ErrClosed
	}
}

// ReadPacket reads the next packet. The body is only valid until the next call.
func (c *Conn) ReadPacket() (*Packet, error) {
	return readPacket(c.reader, c.maxBody, c.scratch)
}

// SetReadDeadline bounds the next reads.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Serve reads packets and passes them to handle in arrival order while the
// outbound queue is drained in the background. It returns when the connection
// fails, handle returns an error, or ctx is done; the connection is closed in
// every case.
func (c *Conn) Serve(ctx context.Context, handle func(*Packet) error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		c.Close()
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case p := <-c.outq:
				if err := c.WritePacket(p.cmd, p.body); err != nil {
					slog.Error("Failed to write queued packet", "command", p.cmd, "error", err)
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			p, err := c.ReadPacket()
			if err != nil {
				return err
			}
			if err := handle(p); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

// Closed reports whether err only says that the peer or the local side shut the
// connection down between two packets.
func Closed(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
