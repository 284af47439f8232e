package gateway

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/renfield/renfield/pkg/types"
)

// DeliverAudio implements turn.AudioDelivery: it selects an audio-output
// device by spec.md §4.6's ordered policy and streams chunks to it as
// tts_audio frames. Returns an error (TTSUnavailable, per spec.md §7) if no
// eligible device exists or the connection cannot be reached.
func (g *Gateway) DeliverAudio(ctx context.Context, sessionID, roomID, originDeviceID string, audio <-chan []byte) error {
	target, ok := g.selectAudioDevice(roomID, originDeviceID)
	if !ok {
		drain(audio)
		return fmt.Errorf("gateway: no eligible audio-output device in room %q", roomID)
	}

	conn := g.connFor(target)
	if conn == nil {
		drain(audio)
		return fmt.Errorf("gateway: device %q has no live connection", target)
	}

	defer drain(audio)

	// One-chunk lookahead so the last frame can be tagged is_final without
	// sending a trailing empty chunk.
	pending, open := <-audio
	for open {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		chunk := pending
		pending, open = <-audio
		conn.send(map[string]any{
			"type":       string(types.EventTTSAudio),
			"audio":      base64.StdEncoding.EncodeToString(chunk),
			"is_final":   !open,
			"session_id": sessionID,
		})
	}
	return nil
}

// selectAudioDevice implements spec.md §4.6's four-rule ordered policy.
// "Largest display" is approximated by the boolean HasDisplay capability,
// since DeviceCapabilities carries no display-size measurement (none is
// named anywhere in the retrieved corpus either); ties, including the
// display-vs-no-display tier itself, break on most-recent heartbeat.
func (g *Gateway) selectAudioDevice(roomID, originDeviceID string) (string, bool) {
	origin, hasOrigin := g.devices.Get(originDeviceID)

	// Rule 1: stationary origin with a speaker.
	if hasOrigin && origin.Capabilities.HasSpeaker && origin.IsStationary {
		return originDeviceID, true
	}

	// Rule 2: best online speaker-capable sibling in the same room.
	if best, ok := bestSpeaker(g.devices.RoomDevices(roomID), originDeviceID); ok {
		return best, true
	}

	// Rule 3: origin device, even if not stationary.
	if hasOrigin && origin.Capabilities.HasSpeaker {
		return originDeviceID, true
	}

	// Rule 4: no eligible device.
	return "", false
}

func bestSpeaker(candidates []types.Device, exclude string) (string, bool) {
	var best types.Device
	found := false
	for _, d := range candidates {
		if d.DeviceID == exclude || !d.Online || !d.Capabilities.HasSpeaker {
			continue
		}
		if !found {
			best, found = d, true
			continue
		}
		if d.Capabilities.HasDisplay && !best.Capabilities.HasDisplay {
			best = d
			continue
		}
		if d.Capabilities.HasDisplay == best.Capabilities.HasDisplay && d.LastHeartbeat.After(best.LastHeartbeat) {
			best = d
		}
	}
	return best.DeviceID, found
}

func drain(ch <-chan []byte) {
	for range ch {
	}
}
