package protocol

import (
	"encoding/json"
	"fmt"
)

// ── Inbound frames ────────────────────────────────────────────────────────────

// ServerEvent is the union of all fields an inbound control-channel frame may
// carry. Which fields are populated depends on the event kind; absent fields
// decode to their zero value.
type ServerEvent struct {
	Type string `json:"type"`

	// Assistant streaming: text/audio/tool-argument deltas keyed by response.
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta,omitempty"`

	// Transcription of user audio.
	Transcript string `json:"transcript,omitempty"`

	// Tool calls.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// Session identity. The service has emitted both spellings.
	SessionID    string `json:"session_id,omitempty"`
	SessionIDAlt string `json:"sessionId,omitempty"`

	// Error events.
	Error *ErrorDetail `json:"error,omitempty"`

	// WebRTC signaling.
	SDP             *SessionDescription `json:"sdp,omitempty"`
	Candidate       *ICECandidate       `json:"candidate,omitempty"`
	TargetSessionID string              `json:"targetSessionId,omitempty"`

	// Connection lifecycle payload (connected-success).
	Data *ConnectedData `json:"data,omitempty"`
}

// EffectiveSessionID returns the session id regardless of which spelling the
// service used.
func (e *ServerEvent) EffectiveSessionID() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.SessionIDAlt
}

// ErrorDetail is the nested error object of an error-class frame:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionDescription mirrors the browser RTCSessionDescription shape used in
// signaling frames.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit. Pointer fields distinguish
// "absent" from "zero" — some peers omit the mid or line index entirely.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ConnectedData is the payload of a connected-success frame.
type ConnectedData struct {
	ICEServers []ICEServer `json:"iceServers,omitempty"`
}

// ICEServer describes one STUN/TURN server from the connected-success
// payload.
type ICEServer struct {
	URLs       URLList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// URLList decodes the "urls" field of an ICE server, which the wire format
// allows as either a single string or an array of strings.
type URLList []string

// UnmarshalJSON implements json.Unmarshaler.
func (u *URLList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*u = URLList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("protocol: urls is neither string nor array: %w", err)
	}
	*u = URLList(many)
	return nil
}

// MarshalJSON keeps the single-URL case compact, matching what the service
// itself emits.
func (u URLList) MarshalJSON() ([]byte, error) {
	if len(u) == 1 {
		return json.Marshal(u[0])
	}
	return json.Marshal([]string(u))
}

// Decode parses one inbound JSON frame and resolves its dialect tag. A frame
// that is not valid JSON returns an error; callers skip it and continue
// (malformed frames never stall the channel).
func Decode(data []byte) (*ServerEvent, EventKind, error) {
	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, EventUnknown, fmt.Errorf("protocol: decode frame: %w", err)
	}
	return &evt, KindOf(evt.Type), nil
}

// ── Outbound frames ───────────────────────────────────────────────────────────

// Outbound frame type tags. The client always speaks the legacy dialect for
// realtime events (both generations accept it) and the explicit signaling
// tags for WebRTC relay.
const (
	TypeSessionUpdate    = "session.update"
	TypeConversationItem = "conversation.item.create"
	TypeResponseCreate   = "response.create"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeAnswer           = "answer"
	TypeICECandidate     = "iceCandidate"
)

// SessionUpdate configures the remote session: instructions, voice, turn
// detection, audio formats, and the enabled tool schema.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// SessionParams is the body of a [SessionUpdate].
type SessionParams struct {
	Instructions            string               `json:"instructions,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionParams `json:"input_audio_transcription,omitempty"`
	Tools                   []Tool               `json:"tools,omitempty"`
}

// TurnDetection holds server-side voice-activity-detection thresholds.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// TranscriptionParams selects the model used to transcribe user audio.
type TranscriptionParams struct {
	Model string `json:"model"`
}

// Tool declares one function the model may call.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ConversationItemCreate inserts a conversation item: a user text message or
// a function-call output.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is the body of a [ConversationItemCreate].
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one typed content segment of a conversation item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UserTextItem builds the conversation-item frame for a user text message.
func UserTextItem(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItem,
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// FunctionCallOutputItem builds the conversation-item frame that returns a
// tool result to the service.
func FunctionCallOutputItem(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItem,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreate asks the service to continue generating a response.
type ResponseCreate struct {
	Type string `json:"type"`
}

// InputAudioAppend carries one base64-encoded PCM16 chunk of microphone
// audio.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// AnswerFrame relays the local SDP answer back through the control channel.
type AnswerFrame struct {
	Type            string              `json:"type"`
	TargetSessionID string              `json:"targetSessionId,omitempty"`
	SDP             *SessionDescription `json:"sdp"`
}

// CandidateFrame relays a locally discovered ICE candidate to the remote
// peer.
type CandidateFrame struct {
	Type            string        `json:"type"`
	TargetSessionID string        `json:"targetSessionId,omitempty"`
	Candidate       *ICECandidate `json:"candidate"`
}
