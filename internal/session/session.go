// Package session implements the NavTalk conversation session manager: the
// state machine around the control channel, the protocol dispatcher feeding
// transcript, playback, capture and media negotiation, and the tool-call
// handshake that lets the service end the call.
package session

import (
	"log/slog"
	"time"

	"github.com/navtalk/esl-tutor/internal/capture"
	"github.com/navtalk/esl-tutor/internal/media"
	"github.com/navtalk/esl-tutor/internal/observe"
	"github.com/navtalk/esl-tutor/internal/playback"
)

// Status is the session state. Exactly one per Manager; it is replaced
// wholesale on every transition, never partially updated.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultPrompt is the built-in tutoring system prompt used when the config
// does not supply one.
const DefaultPrompt = `You are Navi, a patient NavTalk AI language tutor that adapts to the learner's goal.
Keep responses concise (1-3 sentences), always encourage real-time speaking practice,
and offer micro-corrections that do not break learner confidence.`

// User-facing messages. The current error message is a single string,
// replaced on each new fault and cleared on successful reconnect.
const (
	msgConfigureLicense    = "Please configure the NavTalk license in your .env file."
	msgConnectFailed       = "Unable to connect to the NavTalk service."
	msgSessionClosed       = "Session closed."
	msgNotConnected        = "Not connected to NavTalk, unable to send messages."
	msgInsufficientBalance = "Insufficient NavTalk balance. Please top up your account to continue."
	msgMicrophoneDenied    = "Unable to access the microphone. Please check the device permissions."
	msgServiceError        = "NavTalk realtime service reported an error."
)

// listeningPlaceholder is the streaming transcript entry shown while the
// user's speech is being transcribed.
const listeningPlaceholder = "Listening..."

// defaultHangupReason is used when end_conversation arrives without one.
const defaultHangupReason = "Learner requested to end the conversation."

// DefaultHangupDelay is how long trailing audio may keep playing after the
// service asks to end the call before the client actually disconnects.
const DefaultHangupDelay = 5 * time.Second

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics wires metric instruments. A nil Metrics records nothing.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithBaseURL overrides the ws(s) base URL derived from the configured host.
// Primarily used in tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(m *Manager) { m.baseURL = url }
}

// WithOutputFactory sets the playback output factory. Defaults to the system
// speaker.
func WithOutputFactory(f playback.OutputFactory) Option {
	return func(m *Manager) { m.outputFactory = f }
}

// WithSourceFactory sets the microphone source factory. Defaults to the
// system default capture device.
func WithSourceFactory(f capture.SourceFactory) Option {
	return func(m *Manager) { m.sourceFactory = f }
}

// WithVideoSurface sets the renderer for the inbound avatar video track.
// Defaults to a draining discard surface.
func WithVideoSurface(s media.VideoSurface) Option {
	return func(m *Manager) { m.surface = s }
}

// WithHangupDelay overrides the hangup debounce delay. Used in tests.
func WithHangupDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.hangupDelay = d
		}
	}
}
