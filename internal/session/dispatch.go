package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/navtalk/esl-tutor/internal/media"
	"github.com/navtalk/esl-tutor/internal/protocol"
	"github.com/navtalk/esl-tutor/internal/transcript"
)

var _ media.SignalSender = (*signalRelay)(nil)

// handleEvent dispatches one resolved inbound event. Events are handled in
// arrival order on the read-loop goroutine; each handler re-checks the
// session epoch before mutating shared state so a frame raced by a teardown
// is dropped.
func (m *Manager) handleEvent(evt *protocol.ServerEvent, kind protocol.EventKind, epoch uint64) {
	switch kind {
	case protocol.EventConnectedSuccess:
		m.handleConnectedSuccess(evt, epoch)
	case protocol.EventConnectedFail:
		m.teardownTo(epoch, StatusError, msgConnectFailed)
		m.metrics.RecordSessionOutcome(context.Background(), "failed")
	case protocol.EventConnectedClose:
		m.teardownTo(epoch, StatusError, msgSessionClosed)
	case protocol.EventInsufficientBalance:
		m.teardownTo(epoch, StatusError, msgInsufficientBalance)
	case protocol.EventSessionCreated:
		m.sendSessionParams()
	case protocol.EventSessionUpdated:
		m.handleSessionUpdated(epoch)
	case protocol.EventSessionID:
		m.handleSessionID(evt, epoch)
	case protocol.EventSpeechStarted:
		m.handleSpeechStarted(epoch)
	case protocol.EventSpeechStopped:
		m.setFlag(epoch, func(m *Manager) { m.userSpeaking = false })
	case protocol.EventTranscriptionCompleted:
		m.handleTranscription(evt, epoch)
	case protocol.EventAssistantTextDelta:
		m.handleAssistantTextDelta(evt, epoch)
	case protocol.EventAssistantTextDone:
		m.handleAssistantTextDone(evt, epoch)
	case protocol.EventAssistantAudioDelta:
		m.handleAssistantAudioDelta(evt, epoch)
	case protocol.EventAssistantAudioDone, protocol.EventResponseCompleted:
		m.setFlag(epoch, func(m *Manager) { m.thinking = false })
		m.attemptHangup(epoch)
	case protocol.EventToolArgsDelta:
		m.handleToolArgsDelta(evt, epoch)
	case protocol.EventToolArgsDone:
		m.handleToolArgsDone(evt, epoch)
	case protocol.EventError:
		msg := msgServiceError
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		m.teardownTo(epoch, StatusError, msg)
	case protocol.EventOffer:
		m.handleOffer(evt, epoch)
	case protocol.EventAnswer:
		m.handleAnswer(evt, epoch)
	case protocol.EventICECandidate:
		m.handleCandidate(evt, epoch)
	}
}

// setFlag applies a small state mutation under the epoch guard.
func (m *Manager) setFlag(epoch uint64, fn func(*Manager)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	fn(m)
}

// ── Connection lifecycle ──────────────────────────────────────────────────────

func (m *Manager) handleConnectedSuccess(evt *protocol.ServerEvent, epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	neg := m.negotiator
	m.mu.Unlock()
	if neg == nil {
		return
	}

	var servers []pionwebrtc.ICEServer
	if evt.Data != nil {
		for _, s := range evt.Data.ICEServers {
			servers = append(servers, pionwebrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}
	// An empty list keeps the negotiator's built-in STUN fallback.
	neg.SetICEServers(servers)
}

// ── Session negotiation ───────────────────────────────────────────────────────

// sendSessionParams announces instructions, voice, VAD thresholds, formats
// and the tool schema, then replays up to the last 3 user messages as
// conversation context.
func (m *Manager) sendSessionParams() {
	m.mu.Lock()
	voice := m.voice
	prompt := m.prompt
	m.mu.Unlock()

	update := protocol.SessionUpdate{
		Type: protocol.TypeSessionUpdate,
		Session: protocol.SessionParams{
			Instructions: prompt,
			TurnDetection: &protocol.TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 600,
			},
			Voice:                   voice,
			Temperature:             0.9,
			MaxResponseOutputTokens: 4096,
			Modalities:              []string{"text", "audio"},
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: &protocol.TranscriptionParams{Model: "whisper-1"},
			Tools:                   []protocol.Tool{endConversationTool()},
		},
	}
	if err := m.send(update); err != nil {
		m.log.Warn("session: send session parameters", "err", err)
		return
	}

	for _, text := range m.history.RecentUserTexts(3) {
		if err := m.send(protocol.UserTextItem(text)); err != nil {
			m.log.Warn("session: replay history item", "err", err)
			return
		}
	}
}

func endConversationTool() protocol.Tool {
	return protocol.Tool{
		Type:        "function",
		Name:        "end_conversation",
		Description: "Call this when the learner signs off or when practice goals are met so we can hang up politely.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Brief explanation of why the call should end.",
				},
			},
			"required": []string{"reason"},
		},
	}
}

func (m *Manager) handleSessionUpdated(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.status != StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.status = StatusConnected
	m.errMsg = ""
	pipeline := m.pipeline
	started := m.connectStart
	m.mu.Unlock()

	m.metrics.RecordSessionOutcome(context.Background(), "connected")
	if !started.IsZero() {
		m.metrics.ObserveConnectDuration(context.Background(), time.Since(started).Seconds())
	}
	m.log.Info("session: connected")

	if pipeline != nil {
		pipeline.Start()
	}
}

func (m *Manager) handleSessionID(evt *protocol.ServerEvent, epoch uint64) {
	id := evt.EffectiveSessionID()
	if id == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || id == m.sessionID {
		return
	}
	m.sessionID = id
	m.log.Info("session: proxy session assigned", "session_id", id)
}

// ── Speech and transcription ──────────────────────────────────────────────────

func (m *Manager) handleSpeechStarted(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.userSpeaking = true
	queue := m.queue
	needPlaceholder := m.pendingUserID == ""
	if needPlaceholder {
		m.pendingUserID = m.history.Append(transcript.SpeakerUser, listeningPlaceholder, true, "")
	}
	m.mu.Unlock()

	// Barge-in: the user talking cuts off the assistant's audio.
	if queue != nil {
		queue.Stop()
	}
}

// handleTranscription resolves the pending placeholder: an empty transcript
// deletes it, anything else replaces its text and ends the stream.
func (m *Manager) handleTranscription(evt *protocol.ServerEvent, epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	id := m.pendingUserID
	m.pendingUserID = ""
	m.mu.Unlock()
	if id == "" {
		return
	}

	text := strings.TrimSpace(evt.Transcript)
	if text == "" {
		m.history.Remove(id)
	} else {
		m.history.SetText(id, text, false)
	}
}

// ── Assistant output streaming ────────────────────────────────────────────────

func (m *Manager) handleAssistantTextDelta(evt *protocol.ServerEvent, epoch uint64) {
	if evt.Delta == "" || evt.ResponseID == "" {
		return
	}
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.thinking = true
	acc := m.responses[evt.ResponseID] + evt.Delta
	m.responses[evt.ResponseID] = acc
	m.mu.Unlock()

	// The response id doubles as the transcript entry id.
	m.history.UpsertStreaming(evt.ResponseID, transcript.SpeakerAssistant, acc)
}

func (m *Manager) handleAssistantTextDone(evt *protocol.ServerEvent, epoch uint64) {
	if evt.ResponseID == "" {
		return
	}
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	delete(m.responses, evt.ResponseID)
	m.thinking = false
	m.mu.Unlock()

	m.history.FinishStreaming(evt.ResponseID)
}

func (m *Manager) handleAssistantAudioDelta(evt *protocol.ServerEvent, epoch uint64) {
	if evt.Delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
	if err != nil || len(pcm) == 0 {
		// A bad chunk is skipped, never fatal.
		m.log.Debug("session: drop undecodable audio delta", "err", err)
		return
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	queue := m.queue
	m.mu.Unlock()
	if queue == nil {
		return
	}
	queue.Enqueue(pcm)
	m.metrics.AddChunksQueued(context.Background(), 1)
}

// ── Tool calls ────────────────────────────────────────────────────────────────

func (m *Manager) handleToolArgsDelta(evt *protocol.ServerEvent, epoch uint64) {
	if evt.CallID == "" || evt.Delta == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.toolArgs[evt.CallID] += evt.Delta
}

// handleToolArgsDone resolves the final argument string — preferring the
// inline arguments field over the accumulator — parses it (a parse failure
// degrades to an empty object) and dispatches by function name.
func (m *Manager) handleToolArgsDone(evt *protocol.ServerEvent, epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	raw := strings.TrimSpace(evt.Arguments)
	if raw == "" {
		raw = m.toolArgs[evt.CallID]
	}
	delete(m.toolArgs, evt.CallID)
	m.mu.Unlock()

	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			m.log.Warn("session: unparsable tool arguments", "call_id", evt.CallID, "err", err)
			args = map[string]any{}
		}
	}

	switch evt.Name {
	case "end_conversation":
		m.scheduleHangup(evt.CallID, args, epoch)
	default:
		m.metrics.RecordToolCall(context.Background(), evt.Name, "ignored")
		if evt.CallID != "" {
			m.sendToolResult(evt.CallID, map[string]any{
				"status": "ignored",
				"reason": "Unhandled function: " + evt.Name,
			})
		}
	}
}

// sendToolResult returns a function-call output and asks the service to
// continue generating. The reply is best-effort once the channel is gone.
func (m *Manager) sendToolResult(callID string, output any) {
	data, err := json.Marshal(output)
	if err != nil {
		m.log.Warn("session: marshal tool result", "err", err)
		return
	}
	if err := m.send(protocol.FunctionCallOutputItem(callID, string(data))); err != nil {
		m.log.Debug("session: drop tool result", "err", err)
		return
	}
	if err := m.send(protocol.ResponseCreate{Type: protocol.TypeResponseCreate}); err != nil {
		m.log.Debug("session: drop response.create", "err", err)
	}
}

// ── Hangup scheduling ─────────────────────────────────────────────────────────

// scheduleHangup stores the pending reason and acknowledges the call
// immediately; the actual disconnect waits for completion events
// (attemptHangup) so trailing audio can finish.
func (m *Manager) scheduleHangup(callID string, args map[string]any, epoch uint64) {
	reason := defaultHangupReason
	if r, ok := args["reason"].(string); ok && strings.TrimSpace(r) != "" {
		reason = strings.TrimSpace(r)
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.hangupReason = reason
	if m.hangupTimer != nil {
		m.hangupTimer.Stop()
		m.hangupTimer = nil
	}
	m.mu.Unlock()

	m.metrics.RecordToolCall(context.Background(), "end_conversation", "acknowledged")
	m.log.Info("session: hangup requested", "reason", reason)
	if callID != "" {
		m.sendToolResult(callID, map[string]any{
			"action": "end_conversation",
			"status": "acknowledged",
			"reason": reason,
		})
	}
}

// attemptHangup (re)arms the debounced hangup timer. Each completion event
// cancels any previous timer and starts a fresh delay; timers never stack.
func (m *Manager) attemptHangup(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.hangupReason == "" || m.status != StatusConnected {
		return
	}
	if m.hangupTimer != nil {
		m.hangupTimer.Stop()
	}
	m.hangupTimer = time.AfterFunc(m.hangupDelay, func() {
		m.onHangupTimer(epoch)
	})
}

func (m *Manager) onHangupTimer(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.hangupReason == "" {
		m.mu.Unlock()
		return
	}
	reason := m.hangupReason
	m.hangupReason = ""
	m.hangupTimer = nil
	m.mu.Unlock()

	m.log.Info("session: auto hangup", "reason", reason)
	m.teardownTo(epoch, StatusIdle, "")
}

// ── WebRTC signaling ──────────────────────────────────────────────────────────

func (m *Manager) handleOffer(evt *protocol.ServerEvent, epoch uint64) {
	if evt.SDP == nil || evt.SDP.SDP == "" {
		return
	}
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if id := evt.EffectiveSessionID(); id != "" {
		m.targetSessionID = id
	} else if evt.TargetSessionID != "" {
		m.targetSessionID = evt.TargetSessionID
	}
	neg := m.negotiator
	m.mu.Unlock()
	if neg == nil {
		return
	}

	if err := neg.HandleOffer(evt.SDP.SDP); err != nil {
		// Negotiation failures are logged, not fatal: the voice session
		// works without avatar video.
		m.log.Warn("session: offer negotiation", "err", err)
	}
}

func (m *Manager) handleAnswer(evt *protocol.ServerEvent, epoch uint64) {
	if evt.SDP == nil || evt.SDP.SDP == "" {
		return
	}
	m.mu.Lock()
	neg := m.negotiator
	ok := epoch == m.epoch
	m.mu.Unlock()
	if !ok || neg == nil {
		return
	}
	if err := neg.HandleAnswer(evt.SDP.SDP); err != nil {
		m.log.Warn("session: apply answer", "err", err)
	}
}

func (m *Manager) handleCandidate(evt *protocol.ServerEvent, epoch uint64) {
	if evt.Candidate == nil || evt.Candidate.Candidate == "" {
		return
	}
	m.mu.Lock()
	neg := m.negotiator
	ok := epoch == m.epoch
	m.mu.Unlock()
	if !ok || neg == nil {
		return
	}
	init := pionwebrtc.ICECandidateInit{
		Candidate:     evt.Candidate.Candidate,
		SDPMid:        evt.Candidate.SDPMid,
		SDPMLineIndex: evt.Candidate.SDPMLineIndex,
	}
	if err := neg.HandleCandidate(init); err != nil {
		m.log.Debug("session: drop remote candidate", "err", err)
	}
}
