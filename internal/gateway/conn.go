package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/provider/stt"
	"github.com/renfield/renfield/pkg/types"
)

// outboundHighWaterMark is the bound on a connection's outbound send
// channel (spec.md §5's back-pressure rule). A connection that cannot drain
// this many pending frames is considered unhealthy.
const outboundHighWaterMark = 256

// Conn is one device's live WebSocket connection: read loop, write pump,
// and the voice-intake state (one STT session per in-flight session_id).
// Mirrors the OpenAI Realtime provider's session type (read loop owns its
// channels, writeJSON marshals under a context deadline), generalized from a
// single outbound audio channel to the full server-frame protocol, and from
// a client connection to an accepted server connection.
type Conn struct {
	gateway *Gateway
	ws      *websocket.Conn

	deviceID string
	roomID   string

	out chan map[string]any

	sttMu       sync.Mutex
	sttSessions map[string]stt.SessionHandle

	closeOnce sync.Once
}

func newConn(g *Gateway, ws *websocket.Conn) *Conn {
	return &Conn{
		gateway:     g,
		ws:          ws,
		out:         make(chan map[string]any, outboundHighWaterMark),
		sttSessions: make(map[string]stt.SessionHandle),
	}
}

// run drives the connection end to end: wait for registration, then pump
// writes and reads concurrently until either side closes.
func (c *Conn) run(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.Close(websocket.StatusNormalClosure, "")

	if err := c.awaitRegistration(connCtx); err != nil {
		c.ws.Close(websocket.StatusPolicyViolation, "registration required")
		return
	}
	defer c.gateway.unregisterConn(c.deviceID, c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(connCtx)
	}()

	c.readLoop(connCtx, cancel)
	wg.Wait()
}

// awaitRegistration blocks for the first frame, failing the connection per
// spec.md §4.6 if it is not a register frame or does not arrive within the
// grace period.
func (c *Conn) awaitRegistration(ctx context.Context) error {
	regCtx, cancel := context.WithTimeout(ctx, registrationGrace)
	defer cancel()

	_, data, err := c.ws.Read(regCtx)
	if err != nil {
		return ErrRegistrationTimeout
	}

	var f inFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != "register" || f.DeviceID == "" {
		return ErrRegistrationTimeout
	}

	device := c.gateway.devices.Upsert(f.DeviceID, f.DeviceType, f.Capabilities.toTypes(), f.Room, f.IsStationary)
	c.deviceID = device.DeviceID
	c.roomID = device.RoomID

	c.gateway.registerConn(c.deviceID, c)
	c.send(registrationAckFrame(true, device.DeviceID, device.RoomID, device.Capabilities))
	return nil
}

// writePump is the single writer goroutine for this connection's socket,
// draining c.out in order (spec.md §5: "no reordering is permitted by the
// Gateway").
func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case frame, ok := <-c.out:
			if !ok {
				return
			}
			data, err := marshalFrame(frame)
			if err != nil {
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a frame for delivery, closing the connection with
// session_end{reason:backpressure} if the outbound channel has overflowed
// its high-water mark (spec.md §5). Returns whether the frame was (or will
// be) delivered.
func (c *Conn) send(frame map[string]any) bool {
	select {
	case c.out <- frame:
		return true
	default:
		c.closeBackpressure()
		return false
	}
}

func (c *Conn) sendEvent(ev types.Event) {
	c.send(eventToFrame(ev))
}

func (c *Conn) closeBackpressure() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		data, _ := marshalFrame(map[string]any{"type": "session_end", "reason": "backpressure"})
		c.ws.Write(ctx, websocket.MessageText, data)
		c.ws.Close(websocket.StatusPolicyViolation, "backpressure")
	})
}

// readLoop consumes inbound frames until the socket errs or ctx is done.
func (c *Conn) readLoop(ctx context.Context, cancelConn context.CancelFunc) {
	defer cancelConn()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendEvent(types.Event{Type: types.EventError, Message: "malformed frame"})
			continue
		}
		c.handleFrame(ctx, f)
	}
}

func (c *Conn) handleFrame(ctx context.Context, f inFrame) {
	switch f.Type {
	case "text":
		c.handleText(ctx, f)
	case "voice_start":
		c.handleVoiceStart(ctx, f)
	case "voice_chunk":
		c.handleVoiceChunk(f)
	case "voice_end":
		c.handleVoiceEnd(f)
	case "wakeword_detected":
		// Device-side concern per spec.md §9; the core only consumes the
		// resulting transcript and channel=voice, so there is nothing to do
		// here beyond acknowledging receipt via liveness.
	case "heartbeat":
		c.gateway.devices.Heartbeat(c.deviceID)
		c.sendEvent(types.Event{Type: types.EventHeartbeatAck})
	case "notification_ack":
		c.handleNotificationAck(ctx, f)
	case "cancel":
		c.gateway.cancelSession(f.SessionID)
	default:
		c.sendEvent(types.Event{Type: types.EventError, Message: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

func (c *Conn) handleText(ctx context.Context, f inFrame) {
	if f.SessionID == "" || f.Content == "" {
		c.sendEvent(types.Event{Type: types.EventError, Message: "text frame requires content and session_id"})
		return
	}
	c.enqueueTurn(ctx, f.SessionID, f.Content, types.ChannelText, f.UseRAG, f.KnowledgeBaseID, f.AttachmentIDs)
}

func (c *Conn) enqueueTurn(ctx context.Context, sessionID, text string, channel types.Channel, useRAG bool, kbID string, attachmentIDs []string) {
	in := turn.Input{
		Turn: types.TurnContext{
			SessionID:       sessionID,
			DeviceID:        c.deviceID,
			RoomID:          c.roomID,
			Channel:         channel,
			Transport:       types.TransportBrowserSocket,
			UseRAG:          useRAG,
			KnowledgeBaseID: kbID,
			AttachmentIDs:   attachmentIDs,
		},
		Text: text,
	}
	c.gateway.enqueue(ctx, sessionID, in, c)
}

func (c *Conn) handleVoiceStart(ctx context.Context, f inFrame) {
	metrics := observe.DefaultMetrics()
	if c.gateway.sttP == nil {
		c.sendEvent(types.Event{Type: types.EventError, SessionID: f.SessionID, Message: "voice input unavailable"})
		return
	}
	start := time.Now()
	handle, err := c.gateway.sttP.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		metrics.RecordProviderError(ctx, "stt", "stt")
		metrics.RecordProviderRequest(ctx, "stt", "stt", "error")
		c.sendEvent(types.Event{Type: types.EventError, SessionID: f.SessionID, Message: "voice input unavailable"})
		return
	}
	metrics.RecordProviderRequest(ctx, "stt", "stt", "ok")

	c.sttMu.Lock()
	c.sttSessions[f.SessionID] = handle
	c.sttMu.Unlock()

	go func() {
		c.forwardFinals(ctx, f.SessionID, handle)
		metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}()
}

// forwardFinals turns each authoritative STT transcript into one enqueued
// turn, exiting when the session's Finals channel is closed (on voice_end or
// connection teardown).
func (c *Conn) forwardFinals(ctx context.Context, sessionID string, handle stt.SessionHandle) {
	for tr := range handle.Finals() {
		if tr.Text == "" {
			continue
		}
		c.sendEvent(types.Event{Type: types.EventTranscription, SessionID: sessionID, Text: tr.Text})
		c.enqueueTurn(ctx, sessionID, tr.Text, types.ChannelVoice, false, "", nil)
	}
}

func (c *Conn) handleVoiceChunk(f inFrame) {
	c.sttMu.Lock()
	handle, ok := c.sttSessions[f.SessionID]
	c.sttMu.Unlock()
	if !ok {
		return
	}
	chunk, err := f.decodeChunk()
	if err != nil {
		return
	}
	handle.SendAudio(chunk)
}

func (c *Conn) handleVoiceEnd(f inFrame) {
	c.sttMu.Lock()
	handle, ok := c.sttSessions[f.SessionID]
	delete(c.sttSessions, f.SessionID)
	c.sttMu.Unlock()
	if ok {
		handle.Close()
	}
}

func (c *Conn) handleNotificationAck(ctx context.Context, f inFrame) {
	if c.gateway.notify == nil {
		return
	}
	c.gateway.notify.Acknowledge(ctx, f.NotificationID, f.Action == "dismissed")
}
