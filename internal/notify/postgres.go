package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renfield/renfield/pkg/types"
)

var _ Store = (*Postgres)(nil)

// Postgres is a pgx-pool backed Store, grounded on store.Postgres's
// query-building and pgx.CollectRows scanning style.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool to dsn, verifies connectivity, and
// runs Migrate to ensure the notifications table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("notify: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("notify: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Create(ctx context.Context, subjectID, roomID string, payload map[string]any) (types.NotificationRecord, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return types.NotificationRecord{}, fmt.Errorf("notify: marshal payload: %w", err)
	}

	rec := types.NotificationRecord{
		NotificationID: uuid.NewString(),
		SubjectID:      subjectID,
		RoomID:         roomID,
		Payload:        payload,
		Status:         types.NotificationPending,
	}

	const insert = `
		INSERT INTO notifications (notification_id, subject_id, room_id, payload, delivered_devices, status)
		VALUES ($1, $2, $3, $4, '[]', $5)
		RETURNING created_at, updated_at`
	err = s.pool.QueryRow(ctx, insert, rec.NotificationID, subjectID, roomID, payloadJSON, string(rec.Status)).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return types.NotificationRecord{}, fmt.Errorf("notify: create: %w", err)
	}
	return rec, nil
}

func (s *Postgres) MarkDelivered(ctx context.Context, notificationID string, deviceIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notify: mark delivered: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingJSON []byte
	var status string
	const selectQ = `SELECT delivered_devices, status FROM notifications WHERE notification_id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, selectQ, notificationID).Scan(&existingJSON, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownNotification
		}
		return fmt.Errorf("notify: mark delivered: %w", err)
	}

	var existing []string
	if len(existingJSON) > 0 {
		if err := json.Unmarshal(existingJSON, &existing); err != nil {
			return fmt.Errorf("notify: mark delivered: unmarshal: %w", err)
		}
	}
	merged := addDevices(existing, deviceIDs)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("notify: mark delivered: marshal: %w", err)
	}
	if status == string(types.NotificationPending) && len(merged) > 0 {
		status = string(types.NotificationDelivered)
	}

	const update = `
		UPDATE notifications
		SET delivered_devices = $2, status = $3, updated_at = now()
		WHERE notification_id = $1`
	if _, err := tx.Exec(ctx, update, notificationID, mergedJSON, status); err != nil {
		return fmt.Errorf("notify: mark delivered: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Acknowledge(ctx context.Context, notificationID string, dismissed bool) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("notify: acknowledge: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	const selectQ = `SELECT status FROM notifications WHERE notification_id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, selectQ, notificationID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrUnknownNotification
		}
		return false, fmt.Errorf("notify: acknowledge: %w", err)
	}

	if isTerminal(types.NotificationStatus(status)) {
		return true, nil
	}

	next := types.NotificationAcknowledged
	if dismissed {
		next = types.NotificationDismissed
	}
	const update = `UPDATE notifications SET status = $2, updated_at = now() WHERE notification_id = $1`
	if _, err := tx.Exec(ctx, update, notificationID, string(next)); err != nil {
		return false, fmt.Errorf("notify: acknowledge: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("notify: acknowledge: %w", err)
	}
	return false, nil
}

func (s *Postgres) Get(ctx context.Context, notificationID string) (types.NotificationRecord, error) {
	const q = `
		SELECT notification_id, subject_id, room_id, payload, delivered_devices, status, created_at, updated_at
		FROM notifications WHERE notification_id = $1`
	var (
		rec          types.NotificationRecord
		status       string
		payloadJSON  []byte
		deliveredRaw []byte
	)
	err := s.pool.QueryRow(ctx, q, notificationID).Scan(
		&rec.NotificationID, &rec.SubjectID, &rec.RoomID, &payloadJSON, &deliveredRaw, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NotificationRecord{}, ErrUnknownNotification
		}
		return types.NotificationRecord{}, fmt.Errorf("notify: get: %w", err)
	}
	rec.Status = types.NotificationStatus(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return types.NotificationRecord{}, fmt.Errorf("notify: get: unmarshal payload: %w", err)
		}
	}
	if len(deliveredRaw) > 0 {
		if err := json.Unmarshal(deliveredRaw, &rec.DeliveredDevices); err != nil {
			return types.NotificationRecord{}, fmt.Errorf("notify: get: unmarshal devices: %w", err)
		}
	}
	return rec, nil
}

// PendingFor returns every still-pending or delivered-but-unacknowledged
// notification addressed to subjectID, satisfying resolver.NotificationLookup.
func (s *Postgres) PendingFor(ctx context.Context, subjectID string) ([]types.NotificationRecord, error) {
	const q = `
		SELECT notification_id, subject_id, room_id, payload, delivered_devices, status, created_at, updated_at
		FROM notifications
		WHERE subject_id = $1 AND status IN ('pending', 'delivered')
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("notify: pending for: %w", err)
	}
	defer rows.Close()

	var out []types.NotificationRecord
	for rows.Next() {
		var (
			rec          types.NotificationRecord
			status       string
			payloadJSON  []byte
			deliveredRaw []byte
		)
		if err := rows.Scan(
			&rec.NotificationID, &rec.SubjectID, &rec.RoomID, &payloadJSON, &deliveredRaw, &status, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("notify: pending for: scan: %w", err)
		}
		rec.Status = types.NotificationStatus(status)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return nil, fmt.Errorf("notify: pending for: unmarshal payload: %w", err)
			}
		}
		if len(deliveredRaw) > 0 {
			if err := json.Unmarshal(deliveredRaw, &rec.DeliveredDevices); err != nil {
				return nil, fmt.Errorf("notify: pending for: unmarshal devices: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: pending for: %w", err)
	}
	return out, nil
}

func (s *Postgres) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	const q = `
		DELETE FROM notifications
		WHERE status IN ('acknowledged', 'dismissed')
		  AND updated_at < now() - ($1::int * interval '1 day')`
	ct, err := s.pool.Exec(ctx, q, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("notify: cleanup: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
