package vonage

import (
	"encoding/json"
	"testing"
)

func TestTalkActionShape(t *testing.T) {
	data, err := json.Marshal(NCCO{Talk("Connecting your call.")})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := `[{"action":"talk","text":"Connecting your call.","language":"en-US","style":11}]`
	if string(data) != want {
		t.Errorf("unexpected JSON:\n got %s\nwant %s", data, want)
	}
}

func TestConversationActionShape(t *testing.T) {
	tests := []struct {
		name         string
		startOnEnter bool
		endOnExit    bool
		want         string
	}{
		{
			name:         "primary join",
			startOnEnter: true,
			endOnExit:    true,
			want:         `[{"action":"conversation","name":"conf_U1","startOnEnter":true,"endOnExit":true}]`,
		},
		{
			name:         "processor join",
			startOnEnter: true,
			endOnExit:    false,
			want:         `[{"action":"conversation","name":"conf_U1","startOnEnter":true,"endOnExit":false}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(NCCO{Conversation("conf_U1", tt.startOnEnter, tt.endOnExit)})
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("unexpected JSON:\n got %s\nwant %s", data, tt.want)
			}
		})
	}
}
