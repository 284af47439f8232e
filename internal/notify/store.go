// Package notify implements the Notification collaborator: it records
// proactive-notification delivery and acknowledgement state on behalf of the
// Device Gateway, and exposes the intake side of the external webhook
// described in spec.md §4.6 ("external systems post notifications through a
// separate webhook collaborator").
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/renfield/renfield/pkg/types"
)

// ErrUnknownNotification is returned by Acknowledge and MarkDelivered when
// notificationID does not correspond to a record Create has ever produced.
var ErrUnknownNotification = errors.New("notify: unknown notification")

// Store is the durable state backing proactive notifications. Implementations
// must be safe for concurrent use.
type Store interface {
	// Create records a new pending notification and assigns it an ID.
	Create(ctx context.Context, subjectID, roomID string, payload map[string]any) (types.NotificationRecord, error)

	// MarkDelivered appends deviceIDs to the record's delivered set and, if
	// the record is still pending, advances its status to delivered. It is
	// additive: calling it again with an overlapping or disjoint device set
	// only grows DeliveredDevices, never loses previously recorded entries.
	MarkDelivered(ctx context.Context, notificationID string, deviceIDs []string) error

	// Acknowledge transitions a notification to acknowledged or dismissed.
	// Acknowledging a record that is already in either terminal state is a
	// no-op that reports alreadyDone=true rather than an error, per spec.md
	// §8's "notification_ack for an already-acknowledged notification is a
	// no-op returning success".
	Acknowledge(ctx context.Context, notificationID string, dismissed bool) (alreadyDone bool, err error)

	// Get returns the current state of a notification.
	Get(ctx context.Context, notificationID string) (types.NotificationRecord, error)

	// Cleanup removes acknowledged/dismissed records older than olderThanDays,
	// returning the number removed. Pending/delivered records are never
	// removed by Cleanup regardless of age (spec.md leaves undelivered
	// notifications' retention as the caller's concern, not a timed sweep).
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

func isTerminal(status types.NotificationStatus) bool {
	return status == types.NotificationAcknowledged || status == types.NotificationDismissed
}

func addDevices(existing []string, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	out := existing
	for _, id := range add {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// notificationGraceCutoff returns the cutoff time before which terminal
// records are eligible for Cleanup.
func notificationGraceCutoff(olderThanDays int) time.Time {
	return time.Now().AddDate(0, 0, -olderThanDays)
}
