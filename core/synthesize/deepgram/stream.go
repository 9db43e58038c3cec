package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire-core/core/synthesize"
)

// speakConn is the subset of *websocket.Conn the stream uses, split out so
// tests can drive the segment state machine without a live socket.
type speakConn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// stream is one rendering request against the speak API.
//
// The speak API drops text sent between a Flush and its confirmation, so only
// the head segment is ever on the wire: later segments buffer locally and are
// sent when the head's Flushed confirmation arrives.
type stream struct {
	conn    speakConn
	writeMu sync.Mutex

	mu           sync.Mutex
	segments     []string
	textComplete bool
	cancelled    bool
	closed       bool

	options synthesize.Options
}

func newStream(conn speakConn, options synthesize.Options) *stream {
	if options.AudioCallback == nil {
		options.AudioCallback = func([]byte) {}
	}
	if options.SegmentEndedCallback == nil {
		options.SegmentEndedCallback = func(string) {}
	}
	if options.SpeechEndedCallback == nil {
		options.SpeechEndedCallback = func() {}
	}
	if options.ErrorCallback == nil {
		options.ErrorCallback = func(error) {}
	}
	return &stream{conn: conn, options: options}
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

// SendText appends text to the open segment. Text for the head segment is
// forwarded immediately; later segments stay local until their turn.
func (s *stream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return err
	}

	if len(s.segments) == 0 {
		s.segments = append(s.segments, "")
	}
	if len(s.segments) == 1 {
		if err := s.sendWebsocketMessage(speakMessage{Type: "Speak", Text: text}); err != nil {
			return fmt.Errorf("failed to send text: %w", err)
		}
	}
	s.segments[len(s.segments)-1] += text
	return nil
}

// Flush closes the current segment so its audio gets rendered. Further text
// starts the next segment.
func (s *stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return err
	}

	if len(s.segments) == 1 {
		if err := s.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to flush: %w", err)
		}
	}
	s.segments = append(s.segments, "")
	return nil
}

// EndOfText declares the message complete. When nothing is pending the stream
// ends immediately; otherwise it ends when the last segment's audio arrives.
func (s *stream) EndOfText() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("synthesis stream closed")
	} else if s.cancelled {
		return fmt.Errorf("synthesis stream cancelled")
	}

	s.textComplete = true
	if len(s.segments) == 0 || (len(s.segments) == 1 && s.segments[0] == "") {
		s.segments = nil
		s.options.SpeechEndedCallback()
		return s.closeLocked()
	}
	if len(s.segments) == 1 {
		// The head segment is on the wire but was never flushed.
		if err := s.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to flush final segment: %w", err)
		}
	}
	return nil
}

// Cancel abandons everything not yet rendered and tears the stream down.
func (s *stream) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("synthesis stream closed")
	}

	s.cancelled = true
	s.segments = nil
	if err := s.sendWebsocketMessage(clearMsg); err != nil {
		return errors.Join(fmt.Errorf("failed to clear: %w", err), s.closeLocked())
	}
	return s.closeLocked()
}

// Close tears the stream down without waiting for pending audio.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *stream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.sendWebsocketMessage(closeMsg); err != nil {
		if forcedCloseErr := s.conn.Close(); forcedCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, forcedCloseErr))
		}
	}
	return nil
}

func (s *stream) writableLocked() error {
	if s.closed {
		return fmt.Errorf("synthesis stream closed")
	} else if s.cancelled {
		return fmt.Errorf("synthesis stream cancelled")
	} else if s.textComplete {
		return fmt.Errorf("synthesis stream text already completed")
	}
	return nil
}

func (s *stream) sendWebsocketMessage(msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("websocket connection closed")
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

func (s *stream) readAndProcessMessages(ctx context.Context) {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			finished := s.closed || s.cancelled
			s.mu.Unlock()
			if !finished && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "Deepgram speak websocket dropped", "error", err)
				s.options.ErrorCallback(fmt.Errorf("synthesis stream died: %w", err))
			}
			_ = s.conn.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) > 0 {
				s.options.AudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.WarnContext(ctx, "Failed to unmarshal deepgram speak message", "error", err)
				continue
			}
			if parsedMsg.Type == "Flushed" {
				s.handleFlushed()
			}
		}
	}
}

// handleFlushed advances the segment queue: the head segment's audio is fully
// delivered, so report it, promote the next segment onto the wire, and end
// the stream when nothing remains after the final text.
func (s *stream) handleFlushed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.segments) > 0 {
		segment := s.segments[0]
		s.segments = s.segments[1:]
		s.options.SegmentEndedCallback(segment)
	}

	if len(s.segments) == 0 || (len(s.segments) == 1 && s.segments[0] == "") {
		if s.textComplete {
			s.segments = nil
			s.options.SpeechEndedCallback()
			_ = s.closeLocked()
			return
		}
	}

	if len(s.segments) > 0 && s.segments[0] != "" {
		if err := s.sendWebsocketMessage(speakMessage{Type: "Speak", Text: s.segments[0]}); err != nil {
			s.options.ErrorCallback(fmt.Errorf("failed to send buffered text: %w", err))
			return
		}
		if len(s.segments) > 1 || s.textComplete {
			if err := s.sendWebsocketMessage(flushMsg); err != nil {
				s.options.ErrorCallback(fmt.Errorf("failed to flush buffered text: %w", err))
			}
		}
	}
}
