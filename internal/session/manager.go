package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/navtalk/esl-tutor/internal/capture"
	"github.com/navtalk/esl-tutor/internal/config"
	"github.com/navtalk/esl-tutor/internal/media"
	"github.com/navtalk/esl-tutor/internal/observe"
	"github.com/navtalk/esl-tutor/internal/playback"
	"github.com/navtalk/esl-tutor/internal/protocol"
	"github.com/navtalk/esl-tutor/internal/transcript"
)

// maxFrameBytes bounds inbound control-channel frames. Assistant audio
// deltas are the largest frames the service sends.
const maxFrameBytes = 1 << 20

// Manager owns one session at a time: the control channel, the peer
// connection, the capture pipeline and the playback queue are all created on
// Connect and released as a single group by the one teardown path. Only the
// transcript log outlives a session.
//
// Manager is safe for concurrent use.
type Manager struct {
	log     *slog.Logger
	metrics *observe.Metrics
	history *transcript.Log

	baseURL       string
	hangupDelay   time.Duration
	outputFactory playback.OutputFactory
	sourceFactory capture.SourceFactory
	surface       media.VideoSurface

	servicePath string
	license     string
	model       string
	frameSize   int
	chunkSize   int

	mu        sync.Mutex
	status    Status
	errMsg    string
	character string
	voice     string
	prompt    string

	userSpeaking bool
	thinking     bool

	// epoch identifies the current session; every in-flight callback
	// (timers, reads, acquisitions) carries the epoch it was scheduled
	// under and is dropped when they no longer match.
	epoch  uint64
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	queue      *playback.Queue
	pipeline   *capture.Pipeline
	negotiator *media.Negotiator

	pendingUserID   string
	responses       map[string]string
	toolArgs        map[string]string
	sessionID       string
	targetSessionID string

	hangupReason string
	hangupTimer  *time.Timer
	connectStart time.Time
}

// NewManager creates a Manager from the given configuration and transcript
// log. The transcript log persists across sessions; everything else is
// session-scoped.
func NewManager(cfg *config.Config, history *transcript.Log, opts ...Option) *Manager {
	m := &Manager{
		log:           slog.Default(),
		history:       history,
		baseURL:       "wss://" + cfg.Service.Host,
		hangupDelay:   DefaultHangupDelay,
		outputFactory: playback.NewOtoOutput,
		sourceFactory: capture.NewMalgoSource,
		servicePath:   cfg.Service.Path,
		license:       cfg.Service.License,
		model:         cfg.Session.Model,
		frameSize:     cfg.Audio.FrameSize,
		chunkSize:     cfg.Audio.ChunkSize,
		character:     cfg.Session.Character,
		voice:         cfg.Session.Voice,
		prompt:        cfg.Session.Prompt,
		responses:     make(map[string]string),
		toolArgs:      make(map[string]string),
	}
	if m.servicePath == "" {
		m.servicePath = "/api/realtime-api"
	}
	if m.prompt == "" {
		m.prompt = DefaultPrompt
	}
	for _, o := range opts {
		o(m)
	}
	if m.history == nil {
		m.history = transcript.NewLog(nil, cfg.History.MaxEntries)
	}
	return m
}

// ── State accessors ───────────────────────────────────────────────────────────

// Status returns the current session status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ErrorMessage returns the current user-facing error message, empty when
// none.
func (m *Manager) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// UserSpeaking reports whether the service currently detects user speech.
func (m *Manager) UserSpeaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userSpeaking
}

// Thinking reports whether the assistant is generating a response.
func (m *Manager) Thinking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thinking
}

// Transcript returns a snapshot of the conversation transcript.
func (m *Manager) Transcript() []transcript.Entry {
	return m.history.Entries()
}

// VideoStreaming reports whether the avatar video track is live.
func (m *Manager) VideoStreaming() bool {
	m.mu.Lock()
	neg := m.negotiator
	m.mu.Unlock()
	return neg != nil && neg.VideoStreaming()
}

// Muted reports whether the microphone is muted.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	return p != nil && p.Muted()
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Connect opens the control channel and begins session negotiation. With an
// empty license it is a no-op that surfaces a configuration message without
// changing state. Calling Connect while Connecting or Connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if m.license == "" {
		m.errMsg = msgConfigureLicense
		m.mu.Unlock()
		return errors.New(msgConfigureLicense)
	}

	m.epoch++
	epoch := m.epoch
	m.status = StatusConnecting
	m.errMsg = ""
	m.resetSessionStateLocked()
	m.connectStart = time.Now()
	target := m.dialURLLocked()
	m.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		m.teardownTo(epoch, StatusError, msgConnectFailed)
		m.metrics.RecordSessionOutcome(context.Background(), "failed")
		return fmt.Errorf("session: dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	m.mu.Lock()
	if epoch != m.epoch {
		// Disconnected while dialing.
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	sessCtx, sessCancel := context.WithCancel(context.Background())
	m.conn = conn
	m.ctx = sessCtx
	m.cancel = sessCancel
	m.queue = playback.NewQueue(m.outputFactory, m.log)
	m.pipeline = capture.NewPipeline(m.sourceFactory, m.sendAudioChunk, m.frameSize, m.chunkSize, m.log)
	m.negotiator = media.NewNegotiator(&signalRelay{m: m}, m.surface, m.log)
	pipeline := m.pipeline
	m.mu.Unlock()

	// A dead microphone is fatal to the session, not just the pipeline.
	pipeline.SetFailureHandler(func(error) {
		m.teardownTo(epoch, StatusError, msgMicrophoneDenied)
	})

	m.metrics.SessionActive(context.Background(), 1)
	m.log.Info("session: control channel connected", "url", m.baseURL+m.servicePath)

	go m.readLoop(conn, sessCtx, epoch)
	return nil
}

// Disconnect tears the session down and returns to Idle with no error
// message. Safe to call from any state, repeatedly.
func (m *Manager) Disconnect() {
	m.teardownTo(0, StatusIdle, "")
}

// ToggleSession disconnects when a session is live (Connected or
// Connecting), otherwise connects.
func (m *Manager) ToggleSession(ctx context.Context) error {
	switch m.Status() {
	case StatusConnected, StatusConnecting:
		m.Disconnect()
		return nil
	default:
		return m.Connect(ctx)
	}
}

// resetSessionStateLocked clears all per-session scratch state. Callers must
// hold m.mu.
func (m *Manager) resetSessionStateLocked() {
	m.userSpeaking = false
	m.thinking = false
	m.pendingUserID = ""
	m.sessionID = ""
	m.targetSessionID = ""
	m.hangupReason = ""
	m.responses = make(map[string]string)
	m.toolArgs = make(map[string]string)
}

func (m *Manager) dialURLLocked() string {
	q := url.Values{}
	q.Set("license", m.license)
	q.Set("characterName", m.character)
	q.Set("model", m.model)
	return m.baseURL + m.servicePath + "?" + q.Encode()
}

// teardownTo is the single release path for every session-owned resource.
// A non-zero expect makes the teardown conditional on the session epoch, so
// stale timers and read loops cannot tear down a successor session. The
// release sequence is idempotent: a second call finds nothing left to free.
func (m *Manager) teardownTo(expect uint64, next Status, msg string) {
	m.mu.Lock()
	if expect != 0 && expect != m.epoch {
		m.mu.Unlock()
		return
	}
	m.epoch++
	conn := m.conn
	cancel := m.cancel
	queue := m.queue
	pipeline := m.pipeline
	neg := m.negotiator
	timer := m.hangupTimer
	m.conn = nil
	m.ctx = nil
	m.cancel = nil
	m.queue = nil
	m.pipeline = nil
	m.negotiator = nil
	m.hangupTimer = nil
	m.resetSessionStateLocked()
	m.status = next
	m.errMsg = msg
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if pipeline != nil {
		pipeline.Stop()
	}
	if queue != nil {
		queue.Stop()
	}
	if neg != nil {
		if err := neg.Close(); err != nil {
			m.log.Warn("session: close peer connection", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "teardown")
		m.metrics.SessionActive(context.Background(), -1)
	}
}

// ── Control channel I/O ───────────────────────────────────────────────────────

// readLoop consumes inbound frames in arrival order until the channel fails
// or the session is torn down.
func (m *Manager) readLoop(conn *websocket.Conn, ctx context.Context, epoch uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleSocketClosed(epoch)
			return
		}

		evt, kind, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are skipped, never fatal.
			m.log.Debug("session: drop malformed frame", "err", err)
			continue
		}
		if kind == protocol.EventUnknown {
			continue
		}
		m.metrics.RecordEvent(context.Background(), kind.String())
		m.handleEvent(evt, kind, epoch)
	}
}

// handleSocketClosed routes an unexpected channel loss to Error. A loss
// while Connected is an unexpected drop; one while Connecting is a failed
// connect. Teardown-initiated closes carry a stale epoch and are ignored.
func (m *Manager) handleSocketClosed(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	wasConnected := m.status == StatusConnected
	m.mu.Unlock()

	if wasConnected {
		m.teardownTo(epoch, StatusError, msgSessionClosed)
	} else {
		m.teardownTo(epoch, StatusError, msgConnectFailed)
		m.metrics.RecordSessionOutcome(context.Background(), "failed")
	}
}

// send marshals v and writes it as a text frame on the current channel.
func (m *Manager) send(v any) error {
	m.mu.Lock()
	conn := m.conn
	ctx := m.ctx
	m.mu.Unlock()
	if conn == nil {
		return errors.New("session: control channel closed")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("session: send frame: %w", err)
	}
	return nil
}

// sendAudioChunk is the capture pipeline's SendFunc. Chunks are dropped
// unless the session is Connected.
func (m *Manager) sendAudioChunk(chunk string) error {
	m.mu.Lock()
	connected := m.status == StatusConnected && m.conn != nil
	m.mu.Unlock()
	if !connected {
		return errors.New("session: not connected")
	}
	if err := m.send(protocol.InputAudioAppend{
		Type:  protocol.TypeInputAudioAppend,
		Audio: chunk,
	}); err != nil {
		return err
	}
	m.metrics.AddChunksSent(context.Background(), 1)
	return nil
}

// ── Text and microphone operations ────────────────────────────────────────────

// SendText posts a user text message and asks the service to respond. When
// not Connected it sets the user-facing guard message and returns an error.
func (m *Manager) SendText(text string) error {
	m.mu.Lock()
	if m.status != StatusConnected {
		m.errMsg = msgNotConnected
		m.mu.Unlock()
		return errors.New(msgNotConnected)
	}
	m.mu.Unlock()

	m.history.Append(transcript.SpeakerUser, text, false, "")
	if err := m.send(protocol.UserTextItem(text)); err != nil {
		return err
	}
	return m.send(protocol.ResponseCreate{Type: protocol.TypeResponseCreate})
}

// Mute silences the microphone. Frames keep flowing with silent samples.
// The state is stored on the pipeline, so a mute issued while the microphone
// is still being acquired applies once the stream comes up. A no-op when no
// session is live.
func (m *Manager) Mute() { m.setMuted(true) }

// Unmute restores microphone audio. A no-op when no session is live.
func (m *Manager) Unmute() { m.setMuted(false) }

// ToggleMicrophone flips the mute state. A no-op when no session is live.
func (m *Manager) ToggleMicrophone() {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p == nil {
		return
	}
	p.SetMuted(!p.Muted())
}

func (m *Manager) setMuted(muted bool) {
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p == nil {
		return
	}
	p.SetMuted(muted)
}

// ── Mid-session parameter changes ─────────────────────────────────────────────

// SetVoice changes the speech voice. While Connected the session parameters
// are resynced immediately. An empty voice is ignored.
func (m *Manager) SetVoice(voice string) {
	if voice == "" {
		return
	}
	m.mu.Lock()
	m.voice = voice
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if connected {
		m.sendSessionParams()
	}
}

// SetPrompt changes the tutoring prompt; empty restores the built-in one.
// While Connected the session parameters are resynced immediately.
func (m *Manager) SetPrompt(prompt string) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	m.mu.Lock()
	m.prompt = prompt
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if connected {
		m.sendSessionParams()
	}
}

// SetCharacter changes the avatar persona, effective on the next connect.
// An empty name is ignored.
func (m *Manager) SetCharacter(name string) {
	if name == "" {
		return
	}
	m.mu.Lock()
	m.character = name
	m.mu.Unlock()
}

// ClearHistory wipes the persisted transcript.
func (m *Manager) ClearHistory() {
	m.history.Clear()
}

// ── WebRTC signal relay ───────────────────────────────────────────────────────

// signalRelay adapts the Manager's control channel to media.SignalSender.
// Signaling rides the one socket; frames are dropped once it closes.
type signalRelay struct {
	m *Manager
}

// target is the session id outbound signaling frames are addressed to: the
// id carried by the offer when present, otherwise the proxy session id
// announced during setup.
func (r *signalRelay) target() string {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.targetSessionID != "" {
		return r.m.targetSessionID
	}
	return r.m.sessionID
}

func (r *signalRelay) SendAnswer(sdp string) error {
	return r.m.send(protocol.AnswerFrame{
		Type:            protocol.TypeAnswer,
		TargetSessionID: r.target(),
		SDP:             &protocol.SessionDescription{Type: "answer", SDP: sdp},
	})
}

func (r *signalRelay) SendCandidate(c pionwebrtc.ICECandidateInit) error {
	target := r.target()
	out := &protocol.ICECandidate{Candidate: c.Candidate}
	out.SDPMid = c.SDPMid
	out.SDPMLineIndex = c.SDPMLineIndex
	return r.m.send(protocol.CandidateFrame{
		Type:            protocol.TypeICECandidate,
		TargetSessionID: target,
		Candidate:       out,
	})
}
