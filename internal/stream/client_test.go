package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/models"
)

// fakeDoer returns a canned response and records the request it saw.
type fakeDoer struct {
	mu     sync.Mutex
	status int
	body   io.ReadCloser
	err    error
	req    *http.Request
	sent   []byte
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = req
	if req.Body != nil {
		f.sent, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{StatusCode: f.status, Body: f.body}, nil
}

func newTestClient(t *testing.T, d Doer, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient("http://ai.test/", append([]Option{WithDoer(d)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func drain(t *testing.T, s *Stream) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func bodyOf(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", WithDoer(&fakeDoer{})); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestStream_Request(t *testing.T) {
	d := &fakeDoer{status: 200, body: bodyOf("event: done\ndata: {}\n")}
	c := newTestClient(t, d, WithToken("secret"))

	s := c.Stream(context.Background(), Request{
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "Hi"},
			{Role: models.RoleAssistant, Content: "Hello"},
		},
		SessionID: "s1",
	})
	drain(t, s)

	if d.req.Method != http.MethodPost {
		t.Errorf("method = %s", d.req.Method)
	}
	if got := d.req.URL.String(); got != "http://ai.test/chat" {
		t.Errorf("url = %s", got)
	}
	if got := d.req.Header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("Accept = %q", got)
	}
	if got := d.req.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}

	body := string(d.sent)
	if n := gjson.Get(body, "messages.#").Int(); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
	if got := gjson.Get(body, "messages.1.role").String(); got != "assistant" {
		t.Errorf("messages.1.role = %q", got)
	}
	if got := gjson.Get(body, "session_id").String(); got != "s1" {
		t.Errorf("session_id = %q", got)
	}
}

func TestStream_EmptyHistorySendsArray(t *testing.T) {
	d := &fakeDoer{status: 200, body: bodyOf("")}
	c := newTestClient(t, d)
	drain(t, c.Stream(context.Background(), Request{}))

	if got := gjson.Get(string(d.sent), "messages").Raw; got != "[]" {
		t.Errorf("messages = %s, want []", got)
	}
	if gjson.Get(string(d.sent), "session_id").Exists() {
		t.Error("session_id should be omitted")
	}
	if d.req.Header.Get("Authorization") != "" {
		t.Error("Authorization should be absent without a token")
	}
}

func TestStream_ChunksThenDone(t *testing.T) {
	input := "event: message\ndata: {\"content\":\"Hel\"}\n\n" +
		"event: message\r\ndata: {\"content\":\"lo\"}\r\n\r\n" +
		"event: done\ndata: {}\n"

	for _, size := range []int{1, 2, 3, 7, 64, 4096} {
		d := &fakeDoer{status: 200, body: bodyOf(input)}
		c := newTestClient(t, d, WithReadSize(size))
		events := drain(t, c.Stream(context.Background(), Request{}))

		if len(events) != 3 {
			t.Fatalf("size %d: got %d events, want 3", size, len(events))
		}
		if events[0].Text != "Hel" || events[1].Text != "lo" {
			t.Errorf("size %d: chunks = %q, %q", size, events[0].Text, events[1].Text)
		}
		if events[2].Kind != EventDone {
			t.Errorf("size %d: last kind = %v", size, events[2].Kind)
		}
	}
}

func TestStream_EOFWithoutDone(t *testing.T) {
	d := &fakeDoer{status: 200, body: bodyOf("event: message\ndata: {\"content\":\"tail\"}")}
	c := newTestClient(t, d)
	events := drain(t, c.Stream(context.Background(), Request{}))

	if len(events) != 2 || events[0].Text != "tail" || events[1].Kind != EventDone {
		t.Fatalf("events = %+v", events)
	}
}

func TestStream_ErrorEvent(t *testing.T) {
	d := &fakeDoer{status: 200, body: bodyOf(
		"event: message\ndata: {\"content\":\"partial\"}\n" +
			"event: error\ndata: {\"error\":\"model overloaded\"}\n")}
	c := newTestClient(t, d)

	events := drain(t, c.Stream(context.Background(), Request{}))
	if len(events) != 2 || events[0].Text != "partial" || events[1].Kind != EventError {
		t.Fatalf("events = %+v", events)
	}
	var se *apierrors.StreamError
	if !errors.As(events[1].Err, &se) || se.Message != "model overloaded" {
		t.Fatalf("err = %v", events[1].Err)
	}
}

func TestStream_HTTPError(t *testing.T) {
	d := &fakeDoer{status: 500, body: bodyOf(strings.Repeat("x", 10000))}
	c := newTestClient(t, d)
	events := drain(t, c.Stream(context.Background(), Request{}))

	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("events = %+v", events)
	}
	var ae *apierrors.APIError
	if !errors.As(events[0].Err, &ae) {
		t.Fatalf("err = %T", events[0].Err)
	}
	if ae.StatusCode != 500 || ae.Message != "HTTP error! status: 500" {
		t.Errorf("api error = %+v", ae)
	}
	if len(ae.Body) != maxErrorBody {
		t.Errorf("body length = %d, want %d", len(ae.Body), maxErrorBody)
	}
	if apierrors.GetHTTPStatus(events[0].Err) != 500 {
		t.Error("GetHTTPStatus should report 500")
	}
}

func TestStream_TransportError(t *testing.T) {
	d := &fakeDoer{err: errors.New("connection refused")}
	c := newTestClient(t, d)
	events := drain(t, c.Stream(context.Background(), Request{}))

	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("events = %+v", events)
	}
	if !apierrors.IsNetworkError(events[0].Err) {
		t.Errorf("err = %v, want network error", events[0].Err)
	}
}

func TestStream_MissingBody(t *testing.T) {
	d := &fakeDoer{status: 200}
	c := newTestClient(t, d)
	events := drain(t, c.Stream(context.Background(), Request{}))

	var se *apierrors.StreamError
	if len(events) != 1 || !errors.As(events[0].Err, &se) || se.Message != "No response body" {
		t.Fatalf("events = %+v", events)
	}
}

func TestStream_CancelBeforeChunks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	d := &fakeDoer{status: 200, body: pr}
	c := newTestClient(t, d)

	s := c.Stream(context.Background(), Request{})
	s.Cancel()
	events := drain(t, s)

	if len(events) != 1 || events[0].Kind != EventDone {
		t.Fatalf("events = %+v, want a single done", events)
	}
}

func TestStream_CancelMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	d := &fakeDoer{status: 200, body: pr}
	c := newTestClient(t, d)

	s := c.Stream(context.Background(), Request{})
	go pw.Write([]byte("event: message\ndata: {\"content\":\"one\"}\n"))

	first := <-s.Events()
	if first.Kind != EventChunk || first.Text != "one" {
		t.Fatalf("first = %+v", first)
	}

	s.Cancel()
	go pw.Write([]byte("data: {\"content\":\"two\"}\n"))

	rest := drain(t, s)
	if len(rest) != 1 || rest[0].Kind != EventDone {
		t.Fatalf("after cancel = %+v, want a single done", rest)
	}
	<-s.Done()
}

func TestStream_ParentContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	d := &fakeDoer{status: 200, body: pr}
	c := newTestClient(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	s := c.Stream(ctx, Request{})
	cancel()

	events := drain(t, s)
	if len(events) != 1 || events[0].Kind != EventDone {
		t.Fatalf("events = %+v", events)
	}
}

func TestStream_MultibyteChunks(t *testing.T) {
	d := &fakeDoer{status: 200, body: bodyOf(
		"event: message\ndata: {\"content\":\"Софийски \"}\n" +
			"event: message\ndata: {\"content\":\"университет\"}\n" +
			"event: done\ndata: {}\n")}
	c := newTestClient(t, d)

	var sb strings.Builder
	for _, ev := range drain(t, c.Stream(context.Background(), Request{})) {
		sb.WriteString(ev.Text)
	}
	if got := sb.String(); got != "Софийски университет" {
		t.Errorf("got %q", got)
	}
}
