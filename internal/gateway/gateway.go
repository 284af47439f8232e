// Package gateway implements the Device Gateway: the WebSocket transport
// endpoint for connected devices and the audio-output routing policy of
// spec.md §4.6.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/provider/stt"
	"github.com/renfield/renfield/pkg/types"
)

// registrationGrace bounds how long a newly-accepted connection may go
// without sending a register frame before it is closed as a
// RegistrationError (spec.md §4.6).
const registrationGrace = 10 * time.Second

// TurnRunner is the narrow slice of the Turn Engine the Gateway depends on.
// Satisfied structurally by *turn.Engine.
type TurnRunner interface {
	RunTurn(ctx context.Context, in turn.Input) (<-chan types.Event, error)
}

// NotificationStore is the narrow slice of the Notification collaborator the
// Gateway depends on for recording proactive-notification delivery and acks.
type NotificationStore interface {
	MarkDelivered(ctx context.Context, notificationID string, deviceIDs []string) error
	Acknowledge(ctx context.Context, notificationID string, dismissed bool) (alreadyDone bool, err error)
}

// Gateway owns every live device connection, the device registry, the
// per-session FIFO turn queues, and the audio-output routing policy.
type Gateway struct {
	engine TurnRunner
	sttP   stt.Provider
	notify NotificationStore

	devices *DeviceRegistry

	connsMu sync.RWMutex
	conns   map[string]*Conn // device_id -> live connection

	queuesMu sync.Mutex
	queues   map[string]*sessionQueue // session_id -> FIFO worker
}

// New returns a ready-to-use Gateway. sttP and notify may be nil: a nil sttP
// rejects voice frames with an error event instead of transcribing them, and
// a nil notify disables MarkDelivered/Acknowledge bookkeeping (the fan-out
// itself still runs).
func New(engine TurnRunner, sttP stt.Provider, notify NotificationStore) *Gateway {
	return &Gateway{
		engine:  engine,
		sttP:    sttP,
		notify:  notify,
		devices: NewDeviceRegistry(),
		conns:   make(map[string]*Conn),
		queues:  make(map[string]*sessionQueue),
	}
}

// Devices exposes the device registry, e.g. for a REST admin surface.
func (g *Gateway) Devices() *DeviceRegistry { return g.devices }

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes or ctx is cancelled.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	g.Serve(r.Context(), ws)
}

// Serve runs a single already-accepted WebSocket connection to completion.
// Exposed separately from ServeHTTP so tests can drive an in-memory
// websocket.Conn pair directly.
func (g *Gateway) Serve(ctx context.Context, ws *websocket.Conn) {
	conn := newConn(g, ws)
	conn.run(ctx)
}

// registerConn publishes a connection under its device_id so audio routing
// and notification fan-out can reach it. Replaces any prior connection for
// the same device_id (a reconnect).
func (g *Gateway) registerConn(deviceID string, c *Conn) {
	g.connsMu.Lock()
	_, replaced := g.conns[deviceID]
	g.conns[deviceID] = c
	g.connsMu.Unlock()
	if !replaced {
		observe.DefaultMetrics().ActiveDevices.Add(context.Background(), 1)
	}
}

func (g *Gateway) unregisterConn(deviceID string, c *Conn) {
	g.connsMu.Lock()
	removed := g.conns[deviceID] == c
	if removed {
		delete(g.conns, deviceID)
	}
	g.connsMu.Unlock()
	g.devices.MarkOffline(deviceID)
	if removed {
		observe.DefaultMetrics().ActiveDevices.Add(context.Background(), -1)
	}
}

func (g *Gateway) connFor(deviceID string) *Conn {
	g.connsMu.RLock()
	defer g.connsMu.RUnlock()
	return g.conns[deviceID]
}

// runJob executes one queued turn end to end, forwarding every emitted
// Event to the originating connection in order (spec.md §5's ordering
// guarantee), and translates the Turn Engine's cancellation/SessionBusy
// outcomes into the Gateway-level events that are its responsibility per
// spec.md §5 and §8 ("the Gateway emits session_end{reason:cancelled}
// instead").
func (g *Gateway) runJob(job turnJob, q *sessionQueue) {
	turnCtx, cancel := context.WithCancel(job.ctx)
	q.setCancel(cancel)
	defer func() {
		cancel()
		q.setCancel(nil)
	}()

	events, err := g.engine.RunTurn(turnCtx, job.input)
	if err != nil {
		job.conn.sendEvent(types.Event{
			Type:      types.EventError,
			SessionID: job.input.Turn.SessionID,
			Message:   "session busy",
		})
		return
	}

	cancelled := false
	for ev := range events {
		job.conn.sendEvent(ev)
	}
	if turnCtx.Err() != nil {
		cancelled = true
	}
	if cancelled {
		job.conn.sendEvent(types.Event{
			Type:      types.EventSessionEnd,
			SessionID: job.input.Turn.SessionID,
			EndReason: "cancelled",
		})
	}
}

// Notify fans out a proactive notification to every online device in
// rec.RoomID (every online device if RoomID is empty), recording delivery
// via the NotificationStore. Each target device is an independent worker per
// spec.md §5. Devices carry no subject association in this model (they are
// room fixtures, not per-user endpoints), so targeting is by room only; the
// subject is retained on the record for audit purposes.
func (g *Gateway) Notify(ctx context.Context, rec types.NotificationRecord) {
	targets := g.notificationTargets(rec)
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	delivered := make(chan string, len(targets))
	for _, deviceID := range targets {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			conn := g.connFor(deviceID)
			if conn == nil {
				return
			}
			frame := map[string]any{
				"type":            "notification",
				"notification_id": rec.NotificationID,
				"payload":         rec.Payload,
			}
			if conn.send(frame) {
				delivered <- deviceID
			}
		}(deviceID)
	}
	wg.Wait()
	close(delivered)

	var deliveredIDs []string
	for id := range delivered {
		deliveredIDs = append(deliveredIDs, id)
	}
	if g.notify != nil && len(deliveredIDs) > 0 {
		g.notify.MarkDelivered(ctx, rec.NotificationID, deliveredIDs)
	}
}

func (g *Gateway) notificationTargets(rec types.NotificationRecord) []string {
	var targets []string
	for _, d := range g.devices.Snapshot() {
		if !d.Online {
			continue
		}
		if rec.RoomID != "" && d.RoomID != rec.RoomID {
			continue
		}
		targets = append(targets, d.DeviceID)
	}
	return targets
}
