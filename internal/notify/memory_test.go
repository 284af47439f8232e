package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/renfield/renfield/internal/notify"
	"github.com/renfield/renfield/pkg/types"
)

func TestMemory_CreateStartsPending(t *testing.T) {
	m := notify.NewMemory()
	rec, err := m.Create(context.Background(), "subject-1", "kitchen", map[string]any{"kind": "reminder"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != types.NotificationPending {
		t.Fatalf("status = %q, want pending", rec.Status)
	}
	if rec.NotificationID == "" {
		t.Fatal("expected a non-empty notification_id")
	}
}

func TestMemory_MarkDeliveredAdvancesStatusAndAccumulatesDevices(t *testing.T) {
	m := notify.NewMemory()
	ctx := context.Background()
	rec, _ := m.Create(ctx, "subject-1", "kitchen", nil)

	if err := m.MarkDelivered(ctx, rec.NotificationID, []string{"dev-a"}); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := m.MarkDelivered(ctx, rec.NotificationID, []string{"dev-a", "dev-b"}); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	got, err := m.Get(ctx, rec.NotificationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.NotificationDelivered {
		t.Fatalf("status = %q, want delivered", got.Status)
	}
	if len(got.DeliveredDevices) != 2 {
		t.Fatalf("delivered devices = %v, want 2 distinct entries", got.DeliveredDevices)
	}
}

func TestMemory_AcknowledgeIsIdempotent(t *testing.T) {
	m := notify.NewMemory()
	ctx := context.Background()
	rec, _ := m.Create(ctx, "subject-1", "", nil)

	alreadyDone, err := m.Acknowledge(ctx, rec.NotificationID, false)
	if err != nil || alreadyDone {
		t.Fatalf("first Acknowledge: alreadyDone=%v err=%v, want false, nil", alreadyDone, err)
	}

	alreadyDone, err = m.Acknowledge(ctx, rec.NotificationID, false)
	if err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	if !alreadyDone {
		t.Fatal("expected re-acknowledging an acknowledged notification to report alreadyDone=true")
	}

	got, _ := m.Get(ctx, rec.NotificationID)
	if got.Status != types.NotificationAcknowledged {
		t.Fatalf("status = %q, want acknowledged", got.Status)
	}
}

func TestMemory_AcknowledgeDismissed(t *testing.T) {
	m := notify.NewMemory()
	ctx := context.Background()
	rec, _ := m.Create(ctx, "subject-1", "", nil)

	if _, err := m.Acknowledge(ctx, rec.NotificationID, true); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	got, _ := m.Get(ctx, rec.NotificationID)
	if got.Status != types.NotificationDismissed {
		t.Fatalf("status = %q, want dismissed", got.Status)
	}
}

func TestMemory_AcknowledgeUnknownNotificationReturnsError(t *testing.T) {
	m := notify.NewMemory()
	_, err := m.Acknowledge(context.Background(), "ghost", false)
	if !errors.Is(err, notify.ErrUnknownNotification) {
		t.Fatalf("err = %v, want ErrUnknownNotification", err)
	}
}

func TestMemory_CleanupOnlyRemovesAgedTerminalRecords(t *testing.T) {
	m := notify.NewMemory()
	ctx := context.Background()

	pending, _ := m.Create(ctx, "subject-1", "", nil)
	acked, _ := m.Create(ctx, "subject-1", "", nil)
	m.Acknowledge(ctx, acked.NotificationID, false)

	// olderThanDays=1 with a just-created UpdatedAt should not be stale yet.
	n, err := m.Cleanup(ctx, 1)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("Cleanup removed %d records, want 0 (nothing is old enough yet)", n)
	}

	if _, err := m.Get(ctx, pending.NotificationID); err != nil {
		t.Fatalf("pending record should still exist: %v", err)
	}
	if _, err := m.Get(ctx, acked.NotificationID); err != nil {
		t.Fatalf("acked record should still exist: %v", err)
	}
}
