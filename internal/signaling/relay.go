package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/speaklink/internal/cooldown"
	"github.com/ashureev/speaklink/internal/domain"
	"github.com/ashureev/speaklink/internal/metrics"
	"github.com/ashureev/speaklink/internal/presence"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrMalformedEvent is returned for undecodable payloads or missing fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for event names outside the wire contract.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrNotAnnounced is returned when a session sends call events before user_online.
	ErrNotAnnounced = errors.New("session has not announced a user")
	// ErrIdentityMismatch is returned when user_online claims an identity other than the verified one.
	ErrIdentityMismatch = errors.New("announced user does not match verified identity")
)

const (
	offlineMessage = "User is not online."
	busyMessage    = "User is busy."
)

// Emitter delivers outbound events to transport sessions.
type Emitter interface {
	// Emit sends one event to a session and reports whether the session was open.
	Emit(sessionID, event string, payload any) bool
	// Broadcast sends one event to every open session.
	Broadcast(event string, payload any)
}

// Classifier turns a video frame into a sign label. An empty label means no sign.
type Classifier interface {
	Predict(ctx context.Context, image string) (string, error)
}

// Synthesizer turns text into base64-encoded WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// CallLogger persists call records without blocking the caller.
type CallLogger interface {
	LogCall(record domain.CallRecord)
}

// Options configures a Relay. Zero values select defaults.
type Options struct {
	Classifier              Classifier
	Synthesizer             Synthesizer
	CallLogger              CallLogger
	Metrics                 *metrics.Metrics
	CooldownWindow          time.Duration
	InferenceTimeout        time.Duration
	RingTimeout             time.Duration
	MaxInFlight             int64
	RequireVerifiedIdentity bool
	Now                     func() time.Time
}

const (
	// DefaultCooldownWindow is the minimum gap between two identical sign notifications.
	DefaultCooldownWindow = 10 * time.Second
	// DefaultRingTimeout is how long an unanswered call keeps the pair busy.
	DefaultRingTimeout = 60 * time.Second
)

// Relay routes events between sessions using the presence registry.
type Relay struct {
	emitter  Emitter
	presence *presence.Registry
	cooldown *cooldown.Cache
	calls    *callTable

	classifier  Classifier
	synthesizer Synthesizer
	callLog     CallLogger
	metrics     *metrics.Metrics

	cooldownWindow   time.Duration
	inferenceTimeout time.Duration
	requireVerified  bool
	now              func() time.Time

	// sessions maps each open session to the identity verified by the
	// transport (empty when none). Guarded by mu, which also orders
	// cooldown updates against session teardown.
	mu       sync.RWMutex
	sessions map[string]string

	inflight *semaphore.Weighted
	tasks    sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRelay creates a relay that emits through emitter.
func NewRelay(emitter Emitter, opts Options) *Relay {
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = DefaultCooldownWindow
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 15 * time.Second
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		emitter:          emitter,
		cooldown:         cooldown.New(),
		calls:            newCallTable(opts.Now, opts.RingTimeout),
		classifier:       opts.Classifier,
		synthesizer:      opts.Synthesizer,
		callLog:          opts.CallLogger,
		metrics:          opts.Metrics,
		cooldownWindow:   opts.CooldownWindow,
		inferenceTimeout: opts.InferenceTimeout,
		requireVerified:  opts.RequireVerifiedIdentity,
		now:              opts.Now,
		sessions:         make(map[string]string),
		inflight:         semaphore.NewWeighted(opts.MaxInFlight),
		ctx:              ctx,
		cancel:           cancel,
	}
	r.presence = presence.NewRegistry(r.broadcastPresence)
	return r
}

// Presence returns the registry backing the relay.
func (r *Relay) Presence() *presence.Registry {
	return r.presence
}

// Close cancels pending accessibility tasks and waits for them to finish.
func (r *Relay) Close() {
	r.cancel()
	r.tasks.Wait()
}

// Connect registers a new transport session. verifiedUserID is the identity
// established by the auth layer, or empty when none was supplied.
func (r *Relay) Connect(sessionID, verifiedUserID string) {
	r.mu.Lock()
	r.sessions[sessionID] = verifiedUserID
	r.mu.Unlock()
	slog.Info("Client connected", "session_id", sessionID, "verified_user_id", verifiedUserID)
}

// Disconnect removes every piece of state owned by sessionID and tells the
// departing user's call partners that their call ended.
func (r *Relay) Disconnect(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.cooldown.EvictSession(sessionID)
	r.mu.Unlock()

	userID, ok := r.presence.RemoveBySession(sessionID)
	if ok {
		slog.Info("User disconnected", "user_id", userID, "session_id", sessionID)
		r.endCallsFor(userID)
	}
	slog.Info("Client disconnected", "session_id", sessionID)
}

// HandleEvent dispatches one inbound event for sessionID. Returned errors
// describe dropped events; none of them should close the connection.
func (r *Relay) HandleEvent(sessionID, event string, data json.RawMessage) error {
	r.metrics.EventReceived(event)
	err := r.dispatch(sessionID, event, data)
	if err != nil {
		r.metrics.EventRejected(event, rejectReason(err))
	}
	return err
}

func (r *Relay) dispatch(sessionID, event string, data json.RawMessage) error {
	switch event {
	case EventUserOnline:
		return r.handleUserOnline(sessionID, data)
	case EventGetOnlineUsers:
		r.emit(sessionID, EventUpdateOnlineUsers, r.presence.ListAll())
		return nil
	case EventCallUser:
		return r.handleCallUser(sessionID, data)
	case EventAnswerCall:
		return r.handleAnswerCall(sessionID, data)
	case EventRejectCall:
		return r.handleRejectCall(sessionID, data)
	case EventICECandidate:
		return r.handleICECandidate(sessionID, data)
	case EventCallEnded:
		return r.handleCallEnded(sessionID, data)
	case EventToggleMic:
		return r.handleToggleMic(sessionID, data)
	case EventToggleVideo:
		return r.handleToggleVideo(sessionID, data)
	case EventSTTResult:
		return r.handleSTTResult(sessionID, data)
	case EventTextForTTS:
		return r.handleTextForTTS(sessionID, data)
	case EventProcessFrame:
		return r.handleProcessFrame(sessionID, data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

func (r *Relay) handleUserOnline(sessionID string, data json.RawMessage) error {
	var req userOnlineRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	entry := domain.PresenceEntry{
		UserID:          req.UserID,
		SessionID:       sessionID,
		Name:            req.Name,
		IsDeaf:          req.IsDeaf,
		ProfileImageURL: req.ProfileImageURL,
	}
	if !entry.Valid() {
		return fmt.Errorf("%w: user_id is required", ErrMalformedEvent)
	}

	r.mu.RLock()
	verified, open := r.sessions[sessionID]
	r.mu.RUnlock()
	if !open {
		return fmt.Errorf("%w: session %s is not connected", ErrMalformedEvent, sessionID)
	}
	if verified != req.UserID && (verified != "" || r.requireVerified) {
		if r.requireVerified {
			return fmt.Errorf("%w: claimed %q, verified %q", ErrIdentityMismatch, req.UserID, verified)
		}
		slog.Warn("Announced user differs from verified identity",
			"session_id", sessionID, "user_id", req.UserID, "verified_user_id", verified)
	}

	// A user announcing from a new session abandons whatever calls the old
	// session had in progress.
	if prev, ok := r.presence.Resolve(req.UserID); ok && prev.SessionID != sessionID {
		r.endCallsFor(req.UserID)
	}
	// A session switching identity takes its previous user offline.
	if prevUser, ok := r.presence.FindBySession(sessionID); ok && prevUser != req.UserID {
		r.endCallsFor(prevUser)
	}

	r.presence.Announce(entry)
	slog.Info("User is online", "user_id", req.UserID, "name", req.Name, "session_id", sessionID)
	return nil
}

func (r *Relay) handleCallUser(sessionID string, data json.RawMessage) error {
	var req callUserRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || !present(req.Offer) {
		return fmt.Errorf("%w: to and offer are required", ErrMalformedEvent)
	}
	callerID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	caller, ok := r.presence.Resolve(callerID)
	if !ok {
		return ErrNotAnnounced
	}

	callee, ok := r.presence.Resolve(req.To)
	if !ok {
		r.metrics.RoutingMiss(EventCallUser)
		slog.Info("Call target offline", "caller_id", callerID, "callee_id", req.To)
		r.emit(sessionID, EventCallFailed, CallFailed{Message: offlineMessage})
		return nil
	}
	if err := r.calls.Ring(callerID, req.To); err != nil {
		r.emit(sessionID, EventCallFailed, CallFailed{Message: busyMessage})
		return err
	}

	slog.Info("User is calling user", "caller_id", callerID, "callee_id", req.To)
	r.emit(callee.SessionID, EventIncomingCall, IncomingCall{From: caller, Offer: req.Offer})
	return nil
}

func (r *Relay) handleAnswerCall(sessionID string, data json.RawMessage) error {
	var req answerCallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || !present(req.Answer) {
		return fmt.Errorf("%w: to and answer are required", ErrMalformedEvent)
	}
	calleeID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	caller, ok := r.presence.Resolve(req.To)
	if !ok {
		r.routingMiss(EventAnswerCall, calleeID, req.To)
		return nil
	}
	if err := r.calls.Accept(calleeID, req.To); err != nil {
		return err
	}

	if r.callLog != nil {
		r.callLog.LogCall(domain.CallRecord{
			CallerID:  req.To,
			CalleeID:  calleeID,
			Timestamp: r.now().UTC(),
		})
	}

	slog.Info("Call answered", "caller_id", req.To, "callee_id", calleeID)
	r.emit(caller.SessionID, EventCallAccepted, CallAccepted{Answer: req.Answer})
	return nil
}

func (r *Relay) handleRejectCall(sessionID string, data json.RawMessage) error {
	var req targetRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" {
		return fmt.Errorf("%w: to is required", ErrMalformedEvent)
	}
	senderID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	if err := r.calls.End(senderID, req.To, domain.CallRinging); err != nil {
		return err
	}
	slog.Info("Call rejected", "by", senderID, "to", req.To)
	r.forward(EventRejectCall, senderID, req.To, EventCallRejected, Empty{})
	return nil
}

func (r *Relay) handleICECandidate(sessionID string, data json.RawMessage) error {
	var req iceCandidateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || !present(req.Candidate) {
		return fmt.Errorf("%w: to and candidate are required", ErrMalformedEvent)
	}
	senderID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	if err := r.calls.RequireInCall(senderID, req.To); err != nil {
		return err
	}
	r.forward(EventICECandidate, senderID, req.To, EventICECandidate, ICECandidate{From: senderID, Candidate: req.Candidate})
	return nil
}

func (r *Relay) handleCallEnded(sessionID string, data json.RawMessage) error {
	var req targetRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" {
		return fmt.Errorf("%w: to is required", ErrMalformedEvent)
	}
	senderID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	if err := r.calls.End(senderID, req.To, domain.CallRinging, domain.CallActive); err != nil {
		return err
	}
	slog.Info("Call ended", "by", senderID, "to", req.To)
	r.forward(EventCallEnded, senderID, req.To, EventCallEnded, Empty{})
	return nil
}

func (r *Relay) handleToggleMic(sessionID string, data json.RawMessage) error {
	var req toggleMicRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || req.IsMicOn == nil {
		return fmt.Errorf("%w: to and isMicOn are required", ErrMalformedEvent)
	}
	senderID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	if err := r.calls.RequireInCall(senderID, req.To); err != nil {
		return err
	}
	r.forward(EventToggleMic, senderID, req.To, EventMicToggled, MicToggled{From: senderID, IsMicOn: *req.IsMicOn})
	return nil
}

func (r *Relay) handleToggleVideo(sessionID string, data json.RawMessage) error {
	var req toggleVideoRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.To == "" || req.IsVideoOn == nil {
		return fmt.Errorf("%w: to and isVideoOn are required", ErrMalformedEvent)
	}
	senderID, ok := r.presence.FindBySession(sessionID)
	if !ok {
		return ErrNotAnnounced
	}
	if err := r.calls.RequireInCall(senderID, req.To); err != nil {
		return err
	}
	r.forward(EventToggleVideo, senderID, req.To, EventVideoToggled, VideoToggled{From: senderID, IsVideoOn: *req.IsVideoOn})
	return nil
}

// forward resolves to and emits the outbound event there. Offline targets
// are dropped.
func (r *Relay) forward(inbound, from, to, event string, payload any) {
	target, ok := r.presence.Resolve(to)
	if !ok {
		r.routingMiss(inbound, from, to)
		return
	}
	r.emit(target.SessionID, event, payload)
}

func (r *Relay) routingMiss(event, from, to string) {
	r.metrics.RoutingMiss(event)
	slog.Debug("Dropping event for offline user", "event", event, "from", from, "to", to)
}

func (r *Relay) emit(sessionID, event string, payload any) {
	if !r.emitter.Emit(sessionID, event, payload) {
		slog.Debug("Session closed before delivery", "session_id", sessionID, "event", event)
	}
}

// endCallsFor drops every call userID is part of and sends call-ended to
// each reachable partner.
func (r *Relay) endCallsFor(userID string) {
	for _, peer := range r.calls.DropUser(userID) {
		slog.Info("Ending call for departed user", "user_id", userID, "peer_id", peer)
		r.forward(EventCallEnded, userID, peer, EventCallEnded, Empty{})
	}
}

func (r *Relay) broadcastPresence(snapshot []domain.PresenceEntry) {
	r.metrics.SetOnlineUsers(len(snapshot))
	r.emitter.Broadcast(EventUpdateOnlineUsers, snapshot)
}

func decode(data json.RawMessage, v any) error {
	if !present(data) {
		return fmt.Errorf("%w: missing payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown"
	case errors.Is(err, ErrNotAnnounced):
		return "not_announced"
	case errors.Is(err, ErrIdentityMismatch):
		return "identity"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	default:
		return "other"
	}
}
