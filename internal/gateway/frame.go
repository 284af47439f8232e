package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/renfield/renfield/pkg/types"
)

// inFrame is the union of every client->server frame shape defined in
// spec.md §6. Decoding one generic struct and switching on Type mirrors the
// teacher's own serverEvent/writeJSON pattern in the Realtime provider,
// generalized from a single external protocol to this one.
type inFrame struct {
	Type string `json:"type"`

	// register
	DeviceID     string             `json:"device_id"`
	DeviceType   types.DeviceKind   `json:"device_type"`
	Room         string             `json:"room"`
	Capabilities deviceCapsWire     `json:"capabilities"`
	IsStationary bool               `json:"is_stationary"`

	// text
	Content         string   `json:"content"`
	SessionID       string   `json:"session_id"`
	UseRAG          bool     `json:"use_rag"`
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	AttachmentIDs   []string `json:"attachment_ids"`

	// voice_chunk
	Sequence int64  `json:"sequence"`
	Chunk    string `json:"chunk"`

	// wakeword_detected
	Keyword    string  `json:"keyword"`
	Confidence float64 `json:"confidence"`

	// heartbeat
	Status string `json:"status"`

	// notification_ack
	NotificationID string `json:"notification_id"`
	Action         string `json:"action"`
}

type deviceCapsWire struct {
	HasMicrophone bool `json:"has_microphone"`
	HasSpeaker    bool `json:"has_speaker"`
	HasWakeword   bool `json:"has_wakeword"`
	HasDisplay    bool `json:"has_display"`
}

func (w deviceCapsWire) toTypes() types.DeviceCapabilities {
	return types.DeviceCapabilities{
		HasMicrophone: w.HasMicrophone,
		HasSpeaker:    w.HasSpeaker,
		HasWakeword:   w.HasWakeword,
		HasDisplay:    w.HasDisplay,
	}
}

func capsToWire(c types.DeviceCapabilities) deviceCapsWire {
	return deviceCapsWire{
		HasMicrophone: c.HasMicrophone,
		HasSpeaker:    c.HasSpeaker,
		HasWakeword:   c.HasWakeword,
		HasDisplay:    c.HasDisplay,
	}
}

// decodeChunk base64-decodes a voice_chunk's PCM16 payload.
func (f inFrame) decodeChunk() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.Chunk)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode voice_chunk: %w", err)
	}
	return data, nil
}

// eventToFrame projects an internal types.Event onto the wire shape named
// for its Type in spec.md §6's outbound table. Unlike the Plan/ToolCall
// model used internally, the wire frame is deliberately a loosely-typed map:
// it is the external JSON boundary itself, and each frame type carries a
// different subset of keys by design.
func eventToFrame(ev types.Event) map[string]any {
	frame := map[string]any{"type": string(ev.Type)}

	switch ev.Type {
	case types.EventState:
		frame["state"] = string(ev.State)
	case types.EventTranscription:
		frame["text"] = ev.Text
		frame["session_id"] = ev.SessionID
	case types.EventRAGContext:
		frame["has_context"] = ev.HasContext
		if len(ev.Sources) > 0 {
			frame["sources"] = ev.Sources
		}
	case types.EventAction:
		frame["intent"] = ev.ToolName
		frame["result"] = ev.Result
	case types.EventAgentThinking:
		// content/tool/reason are all optional per spec.md §6; thinking
		// carries none of them.
	case types.EventAgentToolCall:
		frame["tool"] = ev.ToolName
	case types.EventAgentToolResult:
		frame["tool"] = ev.ToolName
		frame["success"] = ev.Success
		frame["result"] = ev.Result
	case types.EventStream:
		frame["content"] = ev.Text
	case types.EventResponseText:
		frame["text"] = ev.Text
		frame["session_id"] = ev.SessionID
	case types.EventTTSAudio:
		frame["audio"] = base64.StdEncoding.EncodeToString(ev.Audio)
		frame["is_final"] = ev.IsFinal
		frame["session_id"] = ev.SessionID
	case types.EventDone:
		frame["tts_handled"] = ev.TTSHandled
		if ev.Intent != "" {
			frame["intent"] = ev.Intent
		}
	case types.EventSessionEnd:
		frame["session_id"] = ev.SessionID
		frame["reason"] = ev.EndReason
	case types.EventError:
		frame["message"] = ev.Message
	case types.EventHeartbeatAck:
		// no fields
	case types.EventConfigUpdate:
		cfg := map[string]any{}
		if len(ev.WakeWords) > 0 {
			cfg["wake_words"] = ev.WakeWords
		}
		if ev.Threshold != 0 {
			cfg["threshold"] = ev.Threshold
		}
		frame["config"] = cfg
	case types.EventRegisterAck:
		// built directly by the caller (registrationAckFrame); never routed
		// through eventToFrame.
	}
	return frame
}

func registrationAckFrame(success bool, deviceID, roomID string, caps types.DeviceCapabilities) map[string]any {
	return map[string]any{
		"type":         string(types.EventRegisterAck),
		"success":      success,
		"device_id":    deviceID,
		"room_id":      roomID,
		"capabilities": capsToWire(caps),
	}
}

func marshalFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal frame: %w", err)
	}
	return data, nil
}
