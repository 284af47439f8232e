package gateway

import (
	"testing"
	"time"

	"github.com/renfield/renfield/pkg/types"
)

func TestSelectAudioDevice_StationaryOriginWithSpeakerWins(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("sat-kitchen", types.DeviceSatellite, types.DeviceCapabilities{HasSpeaker: true}, "kitchen", true)
	r.Upsert("panel-kitchen", types.DeviceStationaryPanel, types.DeviceCapabilities{HasSpeaker: true, HasDisplay: true}, "kitchen", true)

	g := &Gateway{devices: r}
	got, ok := g.selectAudioDevice("kitchen", "sat-kitchen")
	if !ok || got != "sat-kitchen" {
		t.Fatalf("expected origin device sat-kitchen to be selected, got %q ok=%v", got, ok)
	}
}

func TestSelectAudioDevice_PrefersSiblingWithDisplayOverNoSpeaker(t *testing.T) {
	r := NewDeviceRegistry()
	// Origin has no speaker at all.
	r.Upsert("mic-only", types.DeviceSatellite, types.DeviceCapabilities{HasMicrophone: true}, "living-room", false)
	r.Upsert("tablet", types.DeviceMobileTablet, types.DeviceCapabilities{HasSpeaker: true, HasDisplay: true}, "living-room", false)
	r.Upsert("speaker-only", types.DeviceSatellite, types.DeviceCapabilities{HasSpeaker: true}, "living-room", false)

	g := &Gateway{devices: r}
	got, ok := g.selectAudioDevice("living-room", "mic-only")
	if !ok || got != "tablet" {
		t.Fatalf("expected the display-capable sibling to win, got %q ok=%v", got, ok)
	}
}

func TestSelectAudioDevice_TieBreaksOnMostRecentHeartbeat(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("mic-only", types.DeviceSatellite, types.DeviceCapabilities{HasMicrophone: true}, "room", false)
	r.Upsert("older", types.DeviceSatellite, types.DeviceCapabilities{HasSpeaker: true}, "room", false)
	time.Sleep(2 * time.Millisecond)
	r.Upsert("newer", types.DeviceSatellite, types.DeviceCapabilities{HasSpeaker: true}, "room", false)

	g := &Gateway{devices: r}
	got, ok := g.selectAudioDevice("room", "mic-only")
	if !ok || got != "newer" {
		t.Fatalf("expected the most recently heartbeating sibling to win, got %q ok=%v", got, ok)
	}
}

func TestSelectAudioDevice_FallsBackToOriginIfNoSiblingHasASpeaker(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("origin", types.DeviceMobileTablet, types.DeviceCapabilities{HasSpeaker: true}, "room", false)
	r.Upsert("sibling", types.DeviceBrowser, types.DeviceCapabilities{HasDisplay: true}, "room", false)

	g := &Gateway{devices: r}
	got, ok := g.selectAudioDevice("room", "origin")
	if !ok || got != "origin" {
		t.Fatalf("expected fallback to origin device, got %q ok=%v", got, ok)
	}
}

func TestSelectAudioDevice_NoEligibleDeviceReturnsFalse(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("origin", types.DeviceMobileTablet, types.DeviceCapabilities{}, "room", false)

	g := &Gateway{devices: r}
	_, ok := g.selectAudioDevice("room", "origin")
	if ok {
		t.Fatalf("expected no eligible audio-output device")
	}
}

func TestSelectAudioDevice_OfflineSiblingIsNeverChosen(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("origin", types.DeviceMobileTablet, types.DeviceCapabilities{}, "room", false)
	r.Upsert("sibling", types.DeviceSatellite, types.DeviceCapabilities{HasSpeaker: true}, "room", false)
	r.MarkOffline("sibling")

	g := &Gateway{devices: r}
	_, ok := g.selectAudioDevice("room", "origin")
	if ok {
		t.Fatalf("expected an offline sibling to never be selected")
	}
}
