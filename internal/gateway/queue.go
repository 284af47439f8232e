package gateway

import (
	"context"
	"sync"

	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/types"
)

// turnJob is one enqueued utterance awaiting its turn on a session's FIFO
// queue (spec.md §4.6: "the Gateway enqueues the turn on the session's FIFO
// queue; the Turn Engine consumes one at a time").
type turnJob struct {
	ctx   context.Context
	input turn.Input
	conn  *Conn
}

// sessionQueue serializes turns for a single session_id onto one worker
// goroutine, so two utterances arriving back to back (e.g. a fast follow-up
// before the first turn's done event) are processed in arrival order rather
// than racing for the Turn Engine's session mutex.
type sessionQueue struct {
	jobs chan turnJob

	mu     sync.Mutex
	cancel context.CancelFunc // of the turn currently executing, if any
}

const sessionQueueDepth = 8

func newSessionQueue() *sessionQueue {
	return &sessionQueue{jobs: make(chan turnJob, sessionQueueDepth)}
}

// run drains jobs sequentially until the queue is closed.
func (q *sessionQueue) run(g *Gateway) {
	for job := range q.jobs {
		g.runJob(job, q)
	}
}

// setCancel records the cancel func of the turn currently in flight so a
// cancel frame can stop it. Cleared once the turn completes.
func (q *sessionQueue) setCancel(cancel context.CancelFunc) {
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
}

// cancelCurrent cancels whatever turn is currently executing for this
// session, if any.
func (q *sessionQueue) cancelCurrent() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// enqueue appends a turn to sessionID's FIFO queue, creating and starting
// its worker on first use. A full queue answers the utterance with an error
// event instead of blocking.
func (g *Gateway) enqueue(ctx context.Context, sessionID string, in turn.Input, conn *Conn) {
	g.queuesMu.Lock()
	q, ok := g.queues[sessionID]
	if !ok {
		q = newSessionQueue()
		g.queues[sessionID] = q
		go q.run(g)
	}
	g.queuesMu.Unlock()

	select {
	case q.jobs <- turnJob{ctx: ctx, input: in, conn: conn}:
	default:
		// Queue is saturated; surface a terminal error to this specific
		// utterance rather than blocking the connection's read loop.
		conn.sendEvent(types.Event{Type: types.EventError, SessionID: sessionID, Message: "session busy: too many queued turns"})
	}
}

// cancelSession cancels the in-flight turn for sessionID, if one exists.
func (g *Gateway) cancelSession(sessionID string) {
	g.queuesMu.Lock()
	q, ok := g.queues[sessionID]
	g.queuesMu.Unlock()
	if ok {
		q.cancelCurrent()
	}
}
