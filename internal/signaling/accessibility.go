package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const signTextPrefix = "(Sign) "

func (r *Relay) handleSTTResult(sessionID string, data json.RawMessage) error {
	var req textRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || req.Text == "" {
		return fmt.Errorf("%w: to and text are required", ErrMalformedEvent)
	}
	senderID, _ := r.presence.FindBySession(sessionID)
	r.forward(EventSTTResult, senderID, req.To, EventSTTResult, Caption{Text: req.Text})
	return nil
}

func (r *Relay) handleTextForTTS(sessionID string, data json.RawMessage) error {
	var req textRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || req.Text == "" {
		return fmt.Errorf("%w: to and text are required", ErrMalformedEvent)
	}
	if _, ok := r.presence.Resolve(req.To); !ok {
		r.routingMiss(EventTextForTTS, sessionID, req.To)
		return nil
	}
	if r.synthesizer == nil {
		slog.Debug("Speech synthesis disabled, dropping text", "session_id", sessionID)
		return nil
	}

	r.spawn(EventTextForTTS, sessionID, func(ctx context.Context) {
		slog.Info("Generating speech", "session_id", sessionID, "to", req.To, "text_len", len(req.Text))
		r.speak(ctx, req.To, req.Text, req.Text)
	})
	return nil
}

func (r *Relay) handleProcessFrame(sessionID string, data json.RawMessage) error {
	var req frameRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.Image == "" {
		return fmt.Errorf("%w: image is required", ErrMalformedEvent)
	}
	if r.classifier == nil {
		slog.Debug("Sign classification disabled, dropping frame", "session_id", sessionID)
		return nil
	}

	r.spawn(EventProcessFrame, sessionID, func(ctx context.Context) {
		r.processFrame(ctx, sessionID, req.To, req.Image)
	})
	return nil
}

func (r *Relay) processFrame(ctx context.Context, sessionID, to, image string) {
	label, err := r.classifier.Predict(ctx, image)
	if err != nil {
		slog.Warn("Sign classification failed", "session_id", sessionID, "error", err)
		return
	}
	if label == "" {
		return
	}
	slog.Debug("Sign detected", "session_id", sessionID, "label", label)

	r.emit(sessionID, EventSignPrediction, SignPrediction{Label: label})

	if to == "" {
		return
	}
	if _, ok := r.presence.Resolve(to); !ok {
		r.routingMiss(EventProcessFrame, sessionID, to)
		return
	}
	if !r.gateSign(sessionID, to, label) {
		slog.Debug("Sign repeated within cooldown", "session_id", sessionID, "label", label)
		return
	}
	r.speak(ctx, to, label, signTextPrefix+label)
}

// gateSign consults the cooldown cache while holding the session lock so a
// concurrent disconnect cannot leave an entry behind for a closed session.
func (r *Relay) gateSign(sessionID, to, label string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, open := r.sessions[sessionID]; !open {
		return false
	}
	notify := r.cooldown.ShouldNotify(sessionID, to, label, r.now(), r.cooldownWindow)
	r.metrics.CooldownDecision(notify)
	return notify
}

// speak synthesizes text and delivers it to the user's current session.
func (r *Relay) speak(ctx context.Context, to, text, caption string) {
	if r.synthesizer == nil {
		return
	}
	audio, err := r.synthesizer.Synthesize(ctx, text)
	if err != nil {
		slog.Warn("Speech synthesis failed", "to", to, "error", err)
		return
	}
	if audio == "" {
		slog.Warn("Speech synthesis returned no audio", "to", to)
		return
	}
	target, ok := r.presence.Resolve(to)
	if !ok {
		r.routingMiss(EventPlayAudioMessage, "", to)
		return
	}
	r.emit(target.SessionID, EventPlayAudioMessage, AudioMessage{Audio: audio, Text: caption})
}

// spawn runs fn off the dispatch path. When every inference slot is busy
// the task is dropped.
func (r *Relay) spawn(event, sessionID string, fn func(ctx context.Context)) {
	if !r.inflight.TryAcquire(1) {
		r.metrics.InferenceDropped()
		slog.Warn("Inference busy, dropping event", "event", event, "session_id", sessionID)
		return
	}
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		defer r.inflight.Release(1)

		ctx, cancel := context.WithTimeout(r.ctx, r.inferenceTimeout)
		defer cancel()
		fn(ctx)
	}()
}
