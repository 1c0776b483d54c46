package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/tailored-agentic-units/gateway/core/protocol"
)

func TestToolCall_MarshalJSON(t *testing.T) {
	tc := protocol.ToolCall{
		ID:        "call_1",
		Name:      "read_file",
		Arguments: `{"path":"notes.txt"}`,
	}

	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var nested struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		t.Fatalf("unmarshal nested: %v", err)
	}

	if nested.Type != "function" {
		t.Errorf("got type %q, want %q", nested.Type, "function")
	}
	if nested.Function.Name != "read_file" {
		t.Errorf("got name %q, want %q", nested.Function.Name, "read_file")
	}
}

func TestToolCall_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want protocol.ToolCall
	}{
		{
			name: "nested LLM API format",
			data: `{"id":"call_1","type":"function","function":{"name":"exec_command","arguments":"{\"command\":\"ls\"}"}}`,
			want: protocol.ToolCall{ID: "call_1", Name: "exec_command", Arguments: `{"command":"ls"}`},
		},
		{
			name: "flat gateway format",
			data: `{"id":"call_2","name":"write_file","arguments":"{}"}`,
			want: protocol.ToolCall{ID: "call_2", Name: "write_file", Arguments: "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got protocol.ToolCall
			if err := json.Unmarshal([]byte(tt.data), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAttachment_IsImage(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"png", "image/png", true},
		{"jpeg", "image/jpeg", true},
		{"gif", "image/gif", true},
		{"webp", "image/webp", true},
		{"pdf rejected", "application/pdf", false},
		{"svg rejected", "image/svg+xml", false},
		{"empty rejected", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := protocol.Attachment{ContentType: tt.contentType}
			if got := a.IsImage(); got != tt.want {
				t.Errorf("IsImage(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	msg := protocol.NewMessage(protocol.RoleUser, "hello")

	if msg.Role != protocol.RoleUser {
		t.Errorf("got role %q, want %q", msg.Role, protocol.RoleUser)
	}
	if msg.Content != "hello" {
		t.Errorf("got content %q, want %q", msg.Content, "hello")
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}
