package judgewire

import (
	"sync"

	"github.com/google/uuid"
)

type response struct {
	body []byte
	err  error
}

type waiter struct {
	job uuid.UUID
	ch  chan response
}

// ResponseHandler pairs replies from a worker with the requests waiting for
// them. Waiters are kept per reply command in request order; judge replies are
// further matched by job id.
type ResponseHandler struct {
	handlers map[Command][]*waiter
	mu       sync.Mutex
	err      error
}

func NewResponseHandler() *ResponseHandler {
	return &ResponseHandler{
		handlers: make(map[Command][]*waiter),
	}
}

// register returns a waiter for the next cmd reply about job (uuid.Nil for
// replies that don't concern a job).
func (h *ResponseHandler) register(cmd Command, job uuid.UUID) *waiter {
	w := &waiter{job: job, ch: make(chan response, 1)} // buffered to avoid blocking sender

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		w.ch <- response{err: h.err}
		return w
	}
	h.handlers[cmd] = append(h.handlers[cmd], w)
	return w
}

// cancel forgets w, e.g. after its context expired.
func (h *ResponseHandler) cancel(cmd Command, w *waiter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(cmd, w)
}

func (h *ResponseHandler) remove(cmd Command, w *waiter) bool {
	list := h.handlers[cmd]
	for i, x := range list {
		if x == w {
			h.handlers[cmd] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// deliver sends body to the oldest waiter for cmd and job, and reports whether
// there was one.
func (h *ResponseHandler) deliver(cmd Command, job uuid.UUID, body []byte) bool {
	h.mu.Lock()
	var found *waiter
	for _, w := range h.handlers[cmd] {
		if w.job == job {
			found = w
			break
		}
	}
	if found != nil {
		h.remove(cmd, found)
	}
	h.mu.Unlock()

	if found == nil {
		return false
	}
	found.ch <- response{body: body}
	return true
}

// fail sends err to the oldest waiter for cmd and job. A uuid.Nil job matches
// the oldest waiter for cmd, whatever its job.
func (h *ResponseHandler) fail(cmd Command, job uuid.UUID, err error) bool {
	h.mu.Lock()
	var found *waiter
	for _, w := range h.handlers[cmd] {
		if job == uuid.Nil || w.job == job {
			found = w
			break
		}
	}
	if found != nil {
		h.remove(cmd, found)
	}
	h.mu.Unlock()

	if found == nil {
		return false
	}
	found.ch <- response{err: err}
	return true
}

// closeAll fails every pending and future waiter with err.
func (h *ResponseHandler) closeAll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.err = err
	for cmd, list := range h.handlers {
		for _, w := range list {
			w.ch <- response{err: err}
		}
		delete(h.handlers, cmd)
	}
}
