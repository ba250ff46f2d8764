// Package protocol defines the control-channel wire format of the NavTalk
// realtime service: the internal event enum, the dual-dialect tag table that
// resolves both service generations onto that enum, and the inbound/outbound
// frame types exchanged as JSON text messages.
//
// The service speaks two dialects concurrently. The first generation uses
// flat tags ("response.audio.delta", "offer"); the second namespaces them
// ("realtime.response.audio.delta", "webrtc.signaling.offer") and adds
// explicit connection-lifecycle events. Handlers never branch on raw tag
// strings — every tag is resolved once, at the boundary, by [KindOf].
package protocol

// EventKind identifies the semantic event class of an inbound frame,
// independent of which dialect carried it.
type EventKind int

const (
	// EventUnknown marks tags from neither dialect. Unknown frames are
	// ignored so newer service versions do not break older clients.
	EventUnknown EventKind = iota

	// Connection lifecycle (second-generation dialect only).
	EventConnectedSuccess
	EventConnectedFail
	EventConnectedClose
	EventInsufficientBalance

	// Session negotiation.
	EventSessionCreated
	EventSessionUpdated
	EventSessionID

	// Speech activity.
	EventSpeechStarted
	EventSpeechStopped

	// Transcription of user audio.
	EventTranscriptionCompleted

	// Assistant output streaming.
	EventAssistantTextDelta
	EventAssistantTextDone
	EventAssistantAudioDelta
	EventAssistantAudioDone
	EventResponseCompleted

	// Tool (function) calls.
	EventToolArgsDelta
	EventToolArgsDone

	// Errors.
	EventError

	// WebRTC signaling relayed over the control channel.
	EventOffer
	EventAnswer
	EventICECandidate
)

// legacyAlias maps every first-generation flat tag to its second-generation
// namespaced equivalent. Tags absent here either already belong to the
// namespaced dialect or are unknown.
var legacyAlias = map[string]string{
	"session.created":                     "realtime.session.created",
	"session.updated":                     "realtime.session.updated",
	"session.session_id":                  "realtime.session.session_id",
	"input_audio_buffer.speech_started":   "realtime.input_audio_buffer.speech_started",
	"input_audio_buffer.speech_stopped":   "realtime.input_audio_buffer.speech_stopped",
	"conversation.item.input_audio_transcription.completed": "realtime.conversation.item.input_audio_transcription.completed",
	"response.audio_transcript.delta":          "realtime.response.audio_transcript.delta",
	"response.audio_transcript.done":           "realtime.response.audio_transcript.done",
	"response.audio.delta":                     "realtime.response.audio.delta",
	"response.audio.done":                      "realtime.response.audio.done",
	"response.completed":                       "realtime.response.completed",
	"response.function_call_arguments.delta":   "realtime.response.function_call_arguments.delta",
	"response.function_call_arguments.done":    "realtime.response.function_call_arguments.done",
	"error":          "realtime.error",
	"response.error": "realtime.error",
	"offer":          "webrtc.signaling.offer",
	"answer":         "webrtc.signaling.answer",
	"iceCandidate":   "webrtc.signaling.ice_candidate",
}

// eventKinds maps namespaced tags to their internal event kind.
var eventKinds = map[string]EventKind{
	"conversation.connected.success":   EventConnectedSuccess,
	"conversation.connected.fail":      EventConnectedFail,
	"conversation.connected.close":     EventConnectedClose,
	"conversation.insufficient.balance": EventInsufficientBalance,

	"realtime.session.created":    EventSessionCreated,
	"realtime.session.updated":    EventSessionUpdated,
	"realtime.session.session_id": EventSessionID,

	"realtime.input_audio_buffer.speech_started": EventSpeechStarted,
	"realtime.input_audio_buffer.speech_stopped": EventSpeechStopped,

	"realtime.conversation.item.input_audio_transcription.completed": EventTranscriptionCompleted,

	"realtime.response.audio_transcript.delta": EventAssistantTextDelta,
	"realtime.response.audio_transcript.done":  EventAssistantTextDone,
	"realtime.response.audio.delta":            EventAssistantAudioDelta,
	"realtime.response.audio.done":             EventAssistantAudioDone,
	"realtime.response.completed":              EventResponseCompleted,

	"realtime.response.function_call_arguments.delta": EventToolArgsDelta,
	"realtime.response.function_call_arguments.done":  EventToolArgsDone,

	"realtime.error": EventError,

	"webrtc.signaling.offer":         EventOffer,
	"webrtc.signaling.answer":        EventAnswer,
	"webrtc.signaling.ice_candidate": EventICECandidate,
}

// KindOf resolves a raw wire tag from either dialect into its [EventKind].
// Unrecognised tags resolve to [EventUnknown].
func KindOf(tag string) EventKind {
	if namespaced, ok := legacyAlias[tag]; ok {
		tag = namespaced
	}
	return eventKinds[tag]
}

// String returns a stable name for the event kind, for logs and metrics.
func (k EventKind) String() string {
	switch k {
	case EventConnectedSuccess:
		return "connected_success"
	case EventConnectedFail:
		return "connected_fail"
	case EventConnectedClose:
		return "connected_close"
	case EventInsufficientBalance:
		return "insufficient_balance"
	case EventSessionCreated:
		return "session_created"
	case EventSessionUpdated:
		return "session_updated"
	case EventSessionID:
		return "session_id"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventTranscriptionCompleted:
		return "transcription_completed"
	case EventAssistantTextDelta:
		return "assistant_text_delta"
	case EventAssistantTextDone:
		return "assistant_text_done"
	case EventAssistantAudioDelta:
		return "assistant_audio_delta"
	case EventAssistantAudioDone:
		return "assistant_audio_done"
	case EventResponseCompleted:
		return "response_completed"
	case EventToolArgsDelta:
		return "tool_args_delta"
	case EventToolArgsDone:
		return "tool_args_done"
	case EventError:
		return "error"
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventICECandidate:
		return "ice_candidate"
	default:
		return "unknown"
	}
}
