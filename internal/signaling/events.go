// Package signaling relays call setup and accessibility events between two
// users resolved through the presence registry.
package signaling

import (
	"bytes"
	"encoding/json"

	"github.com/ashureev/speaklink/internal/domain"
)

// Inbound event names.
const (
	EventUserOnline     = "user_online"
	EventGetOnlineUsers = "get_online_users"
	EventCallUser       = "call-user"
	EventAnswerCall     = "answer-call"
	EventRejectCall     = "reject-call"
	EventICECandidate   = "ice-candidate"
	EventCallEnded      = "call-ended"
	EventToggleMic      = "toggle-mic"
	EventToggleVideo    = "toggle-video"
	EventSTTResult      = "stt-result"
	EventTextForTTS     = "send-text-for-tts"
	EventProcessFrame   = "process-frame"
)

// Outbound event names. ice-candidate, call-ended and stt-result reuse the
// inbound names above.
const (
	EventUpdateOnlineUsers = "update_online_users"
	EventIncomingCall      = "incoming-call"
	EventCallFailed        = "call-failed"
	EventCallAccepted      = "call-accepted"
	EventCallRejected      = "call-rejected"
	EventMicToggled        = "mic-toggled"
	EventVideoToggled      = "video-toggled"
	EventPlayAudioMessage  = "play-audio-message"
	EventSignPrediction    = "sign-prediction"
)

type userOnlineRequest struct {
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	IsDeaf          bool    `json:"isDeaf"`
	ProfileImageURL *string `json:"profile_image_url"`
}

type targetRequest struct {
	To string `json:"to"`
}

type callUserRequest struct {
	To    string          `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

type answerCallRequest struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

type iceCandidateRequest struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type toggleMicRequest struct {
	To      string `json:"to"`
	IsMicOn *bool  `json:"isMicOn"`
}

type toggleVideoRequest struct {
	To        string `json:"to"`
	IsVideoOn *bool  `json:"isVideoOn"`
}

type textRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type frameRequest struct {
	To    string `json:"to"`
	Image string `json:"image"`
}

// IncomingCall is delivered to the callee.
type IncomingCall struct {
	From  domain.PresenceEntry `json:"from"`
	Offer json.RawMessage      `json:"offer"`
}

// CallFailed tells the caller the callee could not be reached.
type CallFailed struct {
	Message string `json:"message"`
}

// CallAccepted carries the callee's answer back to the caller.
type CallAccepted struct {
	Answer json.RawMessage `json:"answer"`
}

// ICECandidate forwards a network candidate to the peer.
type ICECandidate struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// MicToggled reports the peer's microphone state.
type MicToggled struct {
	From    string `json:"from"`
	IsMicOn bool   `json:"isMicOn"`
}

// VideoToggled reports the peer's camera state.
type VideoToggled struct {
	From      string `json:"from"`
	IsVideoOn bool   `json:"isVideoOn"`
}

// Caption is a recognized speech fragment.
type Caption struct {
	Text string `json:"text"`
}

// AudioMessage is synthesized speech to be played by the target.
type AudioMessage struct {
	Audio string `json:"audio"`
	Text  string `json:"text"`
}

// SignPrediction echoes a classified sign to the signer.
type SignPrediction struct {
	Label string `json:"label"`
}

// Empty is the payload of events that carry no fields.
type Empty struct{}

// present reports whether a raw JSON field was supplied with a non-null value.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
