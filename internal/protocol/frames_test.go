package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecode_LegacyAndNamespacedCarrySameFields(t *testing.T) {
	t.Parallel()

	legacy := []byte(`{"type":"response.audio_transcript.delta","response_id":"r1","delta":"hel"}`)
	namespaced := []byte(`{"type":"realtime.response.audio_transcript.delta","response_id":"r1","delta":"hel"}`)

	le, lk, err := Decode(legacy)
	if err != nil {
		t.Fatalf("Decode legacy: %v", err)
	}
	ne, nk, err := Decode(namespaced)
	if err != nil {
		t.Fatalf("Decode namespaced: %v", err)
	}

	if lk != EventAssistantTextDelta || nk != EventAssistantTextDelta {
		t.Fatalf("kinds = %v / %v; want both EventAssistantTextDelta", lk, nk)
	}
	if le.ResponseID != ne.ResponseID || le.Delta != ne.Delta {
		t.Errorf("payloads differ across dialects: %+v vs %+v", le, ne)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	t.Parallel()

	if _, _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Error("Decode accepted malformed JSON")
	}
}

func TestDecode_ConnectedSuccessICEServers(t *testing.T) {
	t.Parallel()

	frame := []byte(`{
		"type": "conversation.connected.success",
		"data": {"iceServers": [
			{"urls": "stun:stun.example.com:3478"},
			{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "c"}
		]}
	}`)

	evt, kind, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != EventConnectedSuccess {
		t.Fatalf("kind = %v; want EventConnectedSuccess", kind)
	}
	if evt.Data == nil || len(evt.Data.ICEServers) != 2 {
		t.Fatalf("ice servers = %+v; want 2 entries", evt.Data)
	}
	if got := evt.Data.ICEServers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Errorf("single-string urls decoded as %v", got)
	}
	if got := evt.Data.ICEServers[1].URLs; len(got) != 1 || got[0] != "turn:turn.example.com:3478" {
		t.Errorf("array urls decoded as %v", got)
	}
	if evt.Data.ICEServers[1].Username != "u" || evt.Data.ICEServers[1].Credential != "c" {
		t.Errorf("credentials lost: %+v", evt.Data.ICEServers[1])
	}
}

func TestEffectiveSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"snake_case", `{"type":"session.session_id","session_id":"s1"}`, "s1"},
		{"camelCase", `{"type":"session.session_id","sessionId":"s2"}`, "s2"},
		{"both prefers snake", `{"type":"session.session_id","session_id":"s1","sessionId":"s2"}`, "s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt, _, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := evt.EffectiveSessionID(); got != tt.want {
				t.Errorf("EffectiveSessionID() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestUserTextItem_Shape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(UserTextItem("hello"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != TypeConversationItem {
		t.Errorf("type = %v; want %q", raw["type"], TypeConversationItem)
	}
	item := raw["item"].(map[string]any)
	if item["role"] != "user" || item["type"] != "message" {
		t.Errorf("item = %v", item)
	}
	content := item["content"].([]any)[0].(map[string]any)
	if content["type"] != "input_text" || content["text"] != "hello" {
		t.Errorf("content = %v", content)
	}
}

func TestFunctionCallOutputItem_Shape(t *testing.T) {
	t.Parallel()

	frame := FunctionCallOutputItem("call-1", `{"status":"acknowledged"}`)
	if frame.Item.Type != "function_call_output" {
		t.Errorf("item type = %q", frame.Item.Type)
	}
	if frame.Item.CallID != "call-1" {
		t.Errorf("call id = %q", frame.Item.CallID)
	}
	if frame.Item.Role != "" || len(frame.Item.Content) != 0 {
		t.Errorf("function output must not carry role/content: %+v", frame.Item)
	}
}
