package turn

import (
	"context"
	"time"

	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/pkg/types"
)

// detachedPersistTimeout bounds the best-effort partial-message persist that
// runs after the turn's own context has already been cancelled.
const detachedPersistTimeout = 5 * time.Second

// finalize implements steps 7-9 of the turn lifecycle: persist the
// assistant message, synthesize and deliver audio for a voice-origin turn,
// emit response_text/done, and (implicitly, via RunTurn's deferred release)
// free the turn mutex.
//
// A turn cancelled before any token was produced gets none of this: no
// assistant message, no done event — the Gateway emits session_end instead
// (spec.md §5's cancellation semantics). A turn cancelled mid-stream still
// attempts to persist what was produced, tagged partial.
func (e *Engine) finalize(ctx context.Context, out chan<- types.Event, fi finalizeInput) {
	if ctx.Err() != nil {
		if fi.persistent && fi.text != "" {
			persistCtx, cancel := context.WithTimeout(context.Background(), detachedPersistTimeout)
			defer cancel()
			e.store.Append(persistCtx, fi.sessionID, types.RoleAssistant, fi.text, map[string]any{"partial": true})
		}
		return
	}

	if fi.persistent {
		meta := map[string]any{}
		if fi.intent != "" {
			meta["intent"] = fi.intent
		}
		if _, err := e.store.Append(ctx, fi.sessionID, types.RoleAssistant, fi.text, meta); err != nil {
			fi.persistent = false
			emit(ctx, out, types.Event{Type: types.EventError, SessionID: fi.sessionID, Message: "conversation not persisted"})
		}
	}

	ttsHandled := false
	if fi.voiceOrigin {
		ttsHandled = e.synthesizeAndDeliver(ctx, fi)
	}

	emit(ctx, out, types.Event{Type: types.EventResponseText, SessionID: fi.sessionID, Text: fi.text})
	emit(ctx, out, types.Event{Type: types.EventDone, SessionID: fi.sessionID, TTSHandled: ttsHandled, Intent: fi.intent})
}

// synthesizeAndDeliver runs step 8: synthesize the assistant text through
// the TTS collaborator and hand the audio off to the Gateway's routing
// policy. Any failure (no provider wired, synthesis error, no eligible
// audio-output device) degrades to TTSUnavailable: text is still delivered
// via response_text, and the caller reports tts_handled=false.
func (e *Engine) synthesizeAndDeliver(ctx context.Context, fi finalizeInput) bool {
	if e.ttsProv == nil || e.audio == nil || fi.text == "" {
		return false
	}

	synthCtx, cancel := context.WithTimeout(ctx, e.cfg.TTSWallTime)
	defer cancel()

	textCh := make(chan string, 1)
	textCh <- fi.text
	close(textCh)

	start := time.Now()
	metrics := observe.DefaultMetrics()
	audioCh, err := e.ttsProv.SynthesizeStream(synthCtx, textCh, fi.voice)
	metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		metrics.RecordProviderError(ctx, "tts", "tts")
		metrics.RecordProviderRequest(ctx, "tts", "tts", "error")
		return false
	}

	if err := e.audio.DeliverAudio(synthCtx, fi.sessionID, fi.roomID, fi.deviceID, audioCh); err != nil {
		for range audioCh {
			// drain so the TTS provider's goroutine is not left blocked
		}
		metrics.RecordProviderRequest(ctx, "tts", "tts", "error")
		return false
	}
	metrics.RecordProviderRequest(ctx, "tts", "tts", "ok")
	return true
}
