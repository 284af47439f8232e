package gateway

import (
	"testing"
	"time"

	"github.com/renfield/renfield/pkg/types"
)

func TestDeviceRegistry_UpsertIsIdempotentByDeviceID(t *testing.T) {
	r := NewDeviceRegistry()
	caps1 := types.DeviceCapabilities{HasSpeaker: true}
	d1 := r.Upsert("sat-kitchen", types.DeviceSatellite, caps1, "room-kitchen", true)

	caps2 := types.DeviceCapabilities{HasSpeaker: true, HasMicrophone: true}
	d2 := r.Upsert("sat-kitchen", types.DeviceSatellite, caps2, "room-kitchen", true)

	if d1.DeviceID != d2.DeviceID {
		t.Fatalf("device_id changed across re-registration: %q vs %q", d1.DeviceID, d2.DeviceID)
	}
	if !d2.Capabilities.HasMicrophone {
		t.Fatalf("capabilities were not updated on re-registration")
	}
	if len(r.Snapshot()) != 1 {
		t.Fatalf("expected exactly one device row, got %d", len(r.Snapshot()))
	}
}

func TestDeviceRegistry_UpsertAssignsDefaultRoomWhenUnspecified(t *testing.T) {
	r := NewDeviceRegistry()
	d := r.Upsert("browser-1", types.DeviceBrowser, types.DeviceCapabilities{}, "", false)
	if d.RoomID == "" {
		t.Fatalf("expected a default room_id to be assigned")
	}
	if d.RoomAssigned {
		t.Fatalf("an auto-assigned room should not be marked RoomAssigned")
	}
}

func TestDeviceRegistry_HeartbeatMarksOnlineAndMarkOfflineClears(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("dev-1", types.DeviceKiosk, types.DeviceCapabilities{}, "room-1", false)

	r.MarkOffline("dev-1")
	d, _ := r.Get("dev-1")
	if d.Online {
		t.Fatalf("expected device offline after MarkOffline")
	}

	r.Heartbeat("dev-1")
	d, _ = r.Get("dev-1")
	if !d.Online {
		t.Fatalf("expected device online after Heartbeat")
	}
}

func TestDeviceRegistry_HeartbeatOnUnknownDeviceIsANoop(t *testing.T) {
	r := NewDeviceRegistry()
	r.Heartbeat("never-registered")
	if len(r.Snapshot()) != 0 {
		t.Fatalf("heartbeat for an unknown device must not create a row")
	}
}

func TestDeviceRegistry_RoomDevicesExpiresStaleHeartbeatOnRead(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("dev-1", types.DeviceKiosk, types.DeviceCapabilities{HasSpeaker: true}, "room-1", false)

	// Force a stale heartbeat directly through the entry.
	r.mu.Lock()
	entry := r.entries["dev-1"]
	r.mu.Unlock()
	entry.mu.Lock()
	entry.device.LastHeartbeat = time.Now().Add(-2 * time.Hour)
	entry.mu.Unlock()
	r.rebuildSnapshot()

	devices := r.RoomDevices("room-1")
	if len(devices) != 1 {
		t.Fatalf("expected one device in room-1, got %d", len(devices))
	}
	if devices[0].Online {
		t.Fatalf("expected stale device to report offline on read")
	}
}

func TestDeviceRegistry_SnapshotIsAnIndependentCopy(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert("dev-1", types.DeviceKiosk, types.DeviceCapabilities{}, "room-1", false)

	snap := r.Snapshot()
	snap[0].Online = false

	d, _ := r.Get("dev-1")
	if !d.Online {
		t.Fatalf("mutating a snapshot slice element must not affect the registry")
	}
}
