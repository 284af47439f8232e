package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlNotificationStore = `
CREATE TABLE IF NOT EXISTS notifications (
    notification_id   TEXT         PRIMARY KEY,
    subject_id        TEXT         NOT NULL,
    room_id           TEXT         NOT NULL DEFAULT '',
    payload           JSONB        NOT NULL DEFAULT '{}',
    delivered_devices  JSONB        NOT NULL DEFAULT '[]',
    status            TEXT         NOT NULL DEFAULT 'pending',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_subject
    ON notifications (subject_id);

CREATE INDEX IF NOT EXISTS idx_notifications_status_updated_at
    ON notifications (status, updated_at);
`

// Migrate creates or ensures the notifications table and its indexes exist.
// Idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlNotificationStore); err != nil {
		return fmt.Errorf("notify migrate: %w", err)
	}
	return nil
}
