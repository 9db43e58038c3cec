package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/output"
)

type fakeConn struct {
	mu      sync.Mutex
	written []string

	reads     chan string
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan string, 16)}
}

func (c *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, string(data))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	raw, ok := <-c.reads
	if !ok {
		return errors.New("connection closed")
	}
	return json.Unmarshal([]byte(raw), v)
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.reads) })
	return nil
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func waitForWrites(t *testing.T, conn *fakeConn, n int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if writes := conn.writes(); len(writes) >= n {
			return writes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d writes, got %d", n, len(conn.writes()))
	return nil
}

func TestBridgePlaySendsMediaThenMarkAndAwaitsAck(t *testing.T) {
	conn := newFakeConn()
	bridge := NewBridge(conn, WithStreamSID("S1"))
	bridge.Start(t.Context())
	defer bridge.Close()

	ctx := t.Context()
	chunk := audio.NewChunk([]byte("abc"))
	playErr := make(chan error, 1)
	go func() { playErr <- bridge.Play(ctx, chunk) }()

	writes := waitForWrites(t, conn, 2)
	wantMedia := `{"event":"media","streamSid":"S1","media":{"payload":"YWJj"}}`
	if writes[0] != wantMedia {
		t.Fatalf("expected media message %s, got %s", wantMedia, writes[0])
	}
	wantMark := fmt.Sprintf(`{"event":"mark","streamSid":"S1","mark":{"name":%q}}`, chunk.ID)
	if writes[1] != wantMark {
		t.Fatalf("expected mark message %s, got %s", wantMark, writes[1])
	}

	select {
	case err := <-playErr:
		t.Fatalf("expected Play to wait for the mark acknowledgement, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	conn.reads <- fmt.Sprintf(`{"event":"mark","streamSid":"S1","mark":{"name":%q}}`, chunk.ID)
	select {
	case err := <-playErr:
		if err != nil {
			t.Fatalf("expected acknowledged Play to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Play to return after the acknowledgement")
	}
}

func TestBridgeClearWireFormat(t *testing.T) {
	conn := newFakeConn()
	bridge := NewBridge(conn, WithStreamSID("S1"))

	if err := bridge.Clear(); err != nil {
		t.Fatalf("expected clear to succeed, got %v", err)
	}
	writes := conn.writes()
	want := `{"event":"clear","streamSid":"S1"}`
	if len(writes) != 1 || writes[0] != want {
		t.Fatalf("expected exactly the clear message %s, got %v", want, writes)
	}
}

func TestBridgeClearInterruptsUnacknowledgedPlay(t *testing.T) {
	conn := newFakeConn()
	bridge := NewBridge(conn, WithStreamSID("S1"))
	bridge.Start(t.Context())
	defer bridge.Close()

	ctx := t.Context()
	playErr := make(chan error, 1)
	go func() { playErr <- bridge.Play(ctx, audio.NewChunk([]byte("abc"))) }()
	waitForWrites(t, conn, 2)

	if err := bridge.Clear(); err != nil {
		t.Fatalf("expected clear to succeed, got %v", err)
	}

	select {
	case err := <-playErr:
		if !errors.Is(err, output.ErrInterrupted) {
			t.Fatalf("expected %v, got %v", output.ErrInterrupted, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Play to return interrupted after clear")
	}

	writes := conn.writes()
	if got, want := writes[2], `{"event":"clear","streamSid":"S1"}`; got != want {
		t.Fatalf("expected the clear to still go out, want %s, got %s", want, got)
	}
}

func TestBridgeForwardsInboundCallerAudio(t *testing.T) {
	conn := newFakeConn()
	received := make(chan []byte, 1)
	bridge := NewBridge(conn, WithOnAudio(func(data []byte) { received <- data }))
	bridge.Start(t.Context())
	defer bridge.Close()

	conn.reads <- `{"event":"media","streamSid":"S1","media":{"payload":"YWJj"}}`
	select {
	case data := <-received:
		if string(data) != "abc" {
			t.Fatalf("expected decoded audio %q, got %q", "abc", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected inbound audio to be forwarded")
	}
}

func TestBridgeDropsMalformedMediaPayload(t *testing.T) {
	conn := newFakeConn()
	received := make(chan []byte, 1)
	fatal := make(chan error, 1)
	bridge := NewBridge(conn,
		WithOnAudio(func(data []byte) { received <- data }),
		WithOnFatal(func(err error) { fatal <- err }),
	)
	bridge.Start(t.Context())
	defer bridge.Close()

	conn.reads <- `{"event":"media","streamSid":"S1","media":{"payload":"not base64!!"}}`
	conn.reads <- `{"event":"media","streamSid":"S1","media":{"payload":"YWJj"}}`

	select {
	case data := <-received:
		if string(data) != "abc" {
			t.Fatalf("expected the malformed payload to be skipped, got %q", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the stream to survive a malformed payload")
	}
	select {
	case err := <-fatal:
		t.Fatalf("expected no fatal error for a malformed payload, got %v", err)
	default:
	}
}

func TestBridgeLearnsStreamFromStartMessage(t *testing.T) {
	conn := newFakeConn()
	bridge := NewBridge(conn)
	bridge.Start(t.Context())
	defer bridge.Close()

	conn.reads <- `{"event":"start","streamSid":"MZ123","start":{"streamSid":"MZ123","callSid":"CA9","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`

	deadline := time.Now().Add(time.Second)
	for bridge.currentStreamSID() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := bridge.currentStreamSID(); got != "MZ123" {
		t.Fatalf("expected stream sid %q, got %q", "MZ123", got)
	}
	encoding := bridge.EncodingInfo()
	if encoding.SampleRate != 8000 || encoding.Format != audio.EncodingMulaw {
		t.Fatalf("expected 8kHz mulaw from the start message, got %+v", encoding)
	}
}

func TestBridgeStopTriggersCallback(t *testing.T) {
	conn := newFakeConn()
	stopped := make(chan struct{}, 1)
	bridge := NewBridge(conn, WithOnStop(func() { stopped <- struct{}{} }))
	bridge.Start(t.Context())
	defer bridge.Close()

	conn.reads <- `{"event":"stop","streamSid":"S1"}`
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("expected the stop callback to fire")
	}
}

func TestBridgeReportsFatalReadFailure(t *testing.T) {
	conn := newFakeConn()
	fatal := make(chan error, 1)
	bridge := NewBridge(conn, WithOnFatal(func(err error) { fatal <- err }))
	bridge.Start(t.Context())

	close(conn.reads)
	select {
	case err := <-fatal:
		if err == nil {
			t.Fatalf("expected a non-nil fatal error")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a fatal error after the connection dropped")
	}
}
