package resolver

import (
	"context"
	"regexp"
	"strings"

	"github.com/renfield/renfield/pkg/types"
)

// NotificationLookup is the narrow read-only view the resolver needs onto
// pending proactive notifications, satisfied by the Notifications
// collaborator.
type NotificationLookup interface {
	PendingFor(ctx context.Context, subjectID string) ([]types.NotificationRecord, error)
}

// ackPatterns are the phrases that, in the presence of a pending
// notification, are treated as an acknowledgement rather than a fresh
// utterance. Matched case-insensitively against the trimmed message.
var ackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(ok|okay|got it|thanks|thank you|understood|noted|dismiss(ed)?|yes|yep|sure)[.!]?$`),
	regexp.MustCompile(`(?i)^(ok|okay|got it|yes),?\s+(thanks|dismiss it|noted)[.!]?$`),
}

// matchesAckShape reports whether text looks like an acknowledgement of a
// pending notification rather than a new request.
func matchesAckShape(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, p := range ackPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// resolveNotificationAck implements spec.md §4.4 step 1: if text matches the
// ack-shape for a pending notification addressed to subjectID, a
// DirectActionPlan for the notification-ack tool is produced and resolution
// short-circuits. Returns (nil, nil) when no ack applies.
func (r *Resolver) resolveNotificationAck(ctx context.Context, subjectID, text string) (*types.Plan, error) {
	if r.notifications == nil || !matchesAckShape(text) {
		return nil, nil
	}

	pending, err := r.notifications.PendingFor(ctx, subjectID)
	if err != nil {
		return nil, nil //nolint:nilerr // a lookup failure should not block resolution; fall through
	}
	if len(pending) == 0 {
		return nil, nil
	}

	latest := pending[0]
	for _, n := range pending[1:] {
		if n.CreatedAt.After(latest.CreatedAt) {
			latest = n
		}
	}

	return &types.Plan{
		Kind: types.PlanDirectAction,
		DirectAction: &types.DirectActionDetail{
			ToolName: notificationAckToolName,
			Args: map[string]any{
				"notification_id": latest.NotificationID,
			},
		},
		Confidence: 1.0,
	}, nil
}

// notificationAckToolName is the well-known tool name the notification-ack
// side effect dispatches to, backed by the Notifications collaborator.
const notificationAckToolName = "notifications__ack"
