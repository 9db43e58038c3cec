// Package deepgram streams audio to Deepgram's live transcription API over a
// websocket and surfaces results through the transcribe boundary callbacks.
package deepgram

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	env "github.com/caarlos0/env/v11"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
)

type config struct {
	APIKey   string `env:"DEEPGRAM_API_KEY,notEmpty"`
	URL      string `env:"DEEPGRAM_LISTEN_URL" envDefault:"wss://api.deepgram.com/v1/listen"`
	Model    string `env:"DEEPGRAM_LISTEN_MODEL" envDefault:"nova-3"`
	Language string `env:"DEEPGRAM_LISTEN_LANGUAGE" envDefault:"en-US"`
}

// TranscriptionClient is one live transcription stream. A client transcribes
// at most one stream over its lifetime.
type TranscriptionClient struct {
	cfg config

	connMu    sync.Mutex
	conn      *websocket.Conn
	lastMsgTs time.Time

	muted        atomic.Bool
	silenceValue byte

	// unendedSegment gates utterance-end forwarding so a quiet line does not
	// produce endpoint signals with nothing said.
	unendedSegment atomic.Bool

	closed atomic.Bool
}

// NewTranscriptionClient reads the Deepgram configuration from the
// environment.
func NewTranscriptionClient() (*TranscriptionClient, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load deepgram configuration: %w", err)
	}
	return &TranscriptionClient{cfg: cfg}, nil
}

// SendAudio forwards one frame of caller audio to the recognizer. While the
// client is muted the frame's bytes are replaced with silence of the same
// length so the stream's timing is preserved without leaking audio.
func (s *TranscriptionClient) SendAudio(audio []byte) error {
	audio = s.outboundFrame(audio)

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription stream is not open")
	}
	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write audio to deepgram: %w", err)
	}
	return nil
}

// outboundFrame applies silence substitution to one frame when muted.
func (s *TranscriptionClient) outboundFrame(audio []byte) []byte {
	if !s.muted.Load() {
		return audio
	}
	silence := make([]byte, len(audio))
	for i := range silence {
		silence[i] = s.silenceValue
	}
	return silence
}

// Mute toggles silence substitution for inbound audio.
func (s *TranscriptionClient) Mute(muted bool) {
	s.muted.Store(muted)
}

// Muted reports whether silence substitution is active.
func (s *TranscriptionClient) Muted() bool {
	return s.muted.Load()
}

// Close flushes the recognizer's buffered audio and tears the stream down.
func (s *TranscriptionClient) Close(_ context.Context) error {
	s.closed.Store(true)

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil
	}
	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) sendKeepAlive(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		logger.WarnContext(ctx, "Failed to send keep-alive to deepgram", "error", err)
	}
}

func (s *TranscriptionClient) sendSilence(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription stream is not open")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write silence to deepgram: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) swapConn(conn *websocket.Conn) *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	previous := s.conn
	s.conn = conn
	return previous
}

func (s *TranscriptionClient) sinceLastAudio() time.Duration {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return time.Since(s.lastMsgTs)
}
