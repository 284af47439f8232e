package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renfield/renfield/pkg/types"
)

var _ Store = (*Memory)(nil)

// Memory is a thread-safe, in-memory Store suitable for tests and
// single-process deployments without a database, grounded on the same
// mutex-guarded-map shape as store.Memory.
type Memory struct {
	mu      sync.Mutex
	records map[string]*types.NotificationRecord
}

// NewMemory returns a ready-to-use Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*types.NotificationRecord)}
}

func (m *Memory) Create(_ context.Context, subjectID, roomID string, payload map[string]any) (types.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]*types.NotificationRecord)
	}

	now := time.Now()
	rec := &types.NotificationRecord{
		NotificationID: uuid.NewString(),
		SubjectID:      subjectID,
		RoomID:         roomID,
		Payload:        payload,
		Status:         types.NotificationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.records[rec.NotificationID] = rec
	return *rec, nil
}

func (m *Memory) MarkDelivered(_ context.Context, notificationID string, deviceIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[notificationID]
	if !ok {
		return ErrUnknownNotification
	}
	rec.DeliveredDevices = addDevices(rec.DeliveredDevices, deviceIDs)
	if rec.Status == types.NotificationPending && len(rec.DeliveredDevices) > 0 {
		rec.Status = types.NotificationDelivered
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Acknowledge(_ context.Context, notificationID string, dismissed bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[notificationID]
	if !ok {
		return false, ErrUnknownNotification
	}
	if isTerminal(rec.Status) {
		return true, nil
	}
	if dismissed {
		rec.Status = types.NotificationDismissed
	} else {
		rec.Status = types.NotificationAcknowledged
	}
	rec.UpdatedAt = time.Now()
	return false, nil
}

func (m *Memory) Get(_ context.Context, notificationID string) (types.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[notificationID]
	if !ok {
		return types.NotificationRecord{}, ErrUnknownNotification
	}
	return *rec, nil
}

// PendingFor returns every still-pending or delivered-but-unacknowledged
// notification addressed to subjectID, satisfying resolver.NotificationLookup.
func (m *Memory) PendingFor(_ context.Context, subjectID string) ([]types.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.NotificationRecord
	for _, rec := range m.records {
		if rec.SubjectID == subjectID && !isTerminal(rec.Status) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *Memory) Cleanup(_ context.Context, olderThanDays int) (int, error) {
	cutoff := notificationGraceCutoff(olderThanDays)

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, rec := range m.records {
		if isTerminal(rec.Status) && rec.UpdatedAt.Before(cutoff) {
			delete(m.records, id)
			count++
		}
	}
	return count, nil
}
