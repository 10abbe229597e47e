package stream

import (
	"errors"
	"testing"

	apierrors "github.com/diogo/eda/internal/errors"
)

func decodeAll(pieces ...string) []Event {
	d := &Decoder{}
	var out []Event
	for _, p := range pieces {
		out = append(out, d.Feed([]byte(p))...)
	}
	return append(out, d.Flush()...)
}

func chunkTexts(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == EventChunk {
			out = append(out, ev.Text)
		}
	}
	return out
}

func TestDecoder_Chunks(t *testing.T) {
	tests := []struct {
		name   string
		pieces []string
		want   []string
	}{
		{
			name:   "json content",
			pieces: []string{"event: message\ndata: {\"content\":\"Hello\"}\n\n"},
			want:   []string{"Hello"},
		},
		{
			name:   "crlf line endings",
			pieces: []string{"event: message\r\ndata: {\"content\":\"Hi\"}\r\n\r\n"},
			want:   []string{"Hi"},
		},
		{
			name:   "line split across feeds",
			pieces: []string{"event: mess", "age\ndata: {\"con", "tent\":\"Hel", "lo\"}\n"},
			want:   []string{"Hello"},
		},
		{
			name:   "malformed json is raw text",
			pieces: []string{"event: message\ndata: not json at all\n"},
			want:   []string{"not json at all"},
		},
		{
			name:   "json without content ignored",
			pieces: []string{"event: message\ndata: {\"other\":1}\ndata: {\"content\":\"x\"}\n"},
			want:   []string{"x"},
		},
		{
			name:   "empty data ignored",
			pieces: []string{"event: message\ndata:\ndata: \ndata: {\"content\":\"y\"}\n"},
			want:   []string{"y"},
		},
		{
			name:   "event persists across data lines",
			pieces: []string{"event: message\ndata: a\n", "data: b\n"},
			want:   []string{"a", "b"},
		},
		{
			name:   "data before any event ignored",
			pieces: []string{"data: {\"content\":\"lost\"}\nevent: message\ndata: {\"content\":\"kept\"}\n"},
			want:   []string{"kept"},
		},
		{
			name:   "unterminated trailing line flushed",
			pieces: []string{"event: message\ndata: {\"content\":\"tail\"}"},
			want:   []string{"tail"},
		},
		{
			name:   "multibyte rune split across feeds",
			pieces: []string{"event: message\ndata: {\"content\":\"\xd0", "\xa1\xd0\xbe\xd1\x84\xd0\xb8\xd1\x8f\"}\n"},
			want:   []string{"София"},
		},
		{
			name:   "nothing after done",
			pieces: []string{"event: done\ndata: {}\nevent: message\ndata: {\"content\":\"late\"}\n"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkTexts(decodeAll(tt.pieces...))
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecoder_Terminal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    EventKind
		message string
	}{
		{"done", "event: done\ndata: {}\n", EventDone, ""},
		{"error json", "event: error\ndata: {\"error\":\"rate limited\"}\n", EventError, "rate limited"},
		{"error raw", "event: error\ndata: upstream exploded\n", EventError, "upstream exploded"},
		{"error empty", "event: error\ndata: {}\n", EventError, "Unknown error"},
		{"error blank", "event: error\ndata:\n", EventError, "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := decodeAll(tt.input)
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1", len(events))
			}
			ev := events[0]
			if ev.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", ev.Kind, tt.kind)
			}
			if tt.kind != EventError {
				return
			}
			var se *apierrors.StreamError
			if !errors.As(ev.Err, &se) {
				t.Fatalf("err = %T, want *StreamError", ev.Err)
			}
			if se.Message != tt.message {
				t.Errorf("message = %q, want %q", se.Message, tt.message)
			}
		})
	}
}

func TestDecoder_SplitInvariance(t *testing.T) {
	input := "event: message\ndata: {\"content\":\"Софийски \"}\n\n" +
		"event: message\r\ndata: {\"content\":\"университет\"}\r\n\r\n" +
		"event: message\ndata: plain\n" +
		"event: done\ndata: {}\n"

	want := chunkTexts(decodeAll(input))
	if len(want) != 3 {
		t.Fatalf("baseline chunks = %q", want)
	}

	for size := 1; size < len(input); size++ {
		var pieces []string
		for i := 0; i < len(input); i += size {
			end := i + size
			if end > len(input) {
				end = len(input)
			}
			pieces = append(pieces, input[i:end])
		}
		got := chunkTexts(decodeAll(pieces...))
		if len(got) != len(want) {
			t.Fatalf("size %d: chunks = %q, want %q", size, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("size %d: chunk[%d] = %q, want %q", size, i, got[i], want[i])
			}
		}
	}
}

func TestEventKind_String(t *testing.T) {
	if EventChunk.String() != "chunk" || EventDone.String() != "done" || EventError.String() != "error" {
		t.Error("unexpected kind names")
	}
	if EventKind(9).String() != "EventKind(9)" {
		t.Errorf("unknown kind = %q", EventKind(9).String())
	}
}
