package resolver

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// MemoryFactStore is where a captured long-term fact is appended as a side
// effect, satisfied by the Intent Resolver's memory-fact backend.
type MemoryFactStore interface {
	AppendFact(ctx context.Context, subjectID, factText, sourceSessionID string) error
}

// memoryCapturePatterns recognise an unambiguous declaration of a long-term
// fact about the speaker. Each pattern's last submatch is the fact text.
var memoryCapturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^remember that (.+)$`),
	regexp.MustCompile(`(?i)^please remember (.+)$`),
	regexp.MustCompile(`(?i)^remember,? (.+)$`),
	regexp.MustCompile(`(?i)^don't forget that (.+)$`),
}

// extractMemoryFact reports the captured fact text if text unambiguously
// declares a long-term fact, per spec.md §4.4 step 2.
func extractMemoryFact(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, p := range memoryCapturePatterns {
		if m := p.FindStringSubmatch(trimmed); m != nil {
			fact := strings.TrimSpace(m[len(m)-1])
			// A bare "remember that" declares nothing.
			if fact != "" && !strings.EqualFold(fact, "that") {
				return fact, true
			}
		}
	}
	return "", false
}

// captureMemoryFact schedules the side-effect append described by spec.md
// §4.4 step 2. It runs in addition to — never instead of — the rest of
// resolution, so any error is logged and swallowed.
func (r *Resolver) captureMemoryFact(ctx context.Context, subjectID, sessionID, text string) {
	fact, ok := extractMemoryFact(text)
	if !ok || r.memoryFacts == nil {
		return
	}
	if err := r.memoryFacts.AppendFact(ctx, subjectID, fact, sessionID); err != nil {
		slog.Warn("resolver: memory capture failed", "subject_id", subjectID, "error", err)
	}
}
