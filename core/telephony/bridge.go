// Package telephony bridges a conversation to a telephony media stream.
//
// The bridge speaks the line-delimited JSON media-stream protocol used by
// common telephony providers: inbound caller audio arrives as base64 media
// messages, outbound bot audio is sent as media messages each followed by a
// mark, and playback is confirmed by the provider echoing the mark back.
package telephony

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/output"
)

// Conn is the duplex JSON connection underneath the bridge. A
// *websocket.Conn from gorilla/websocket satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Bridge is an output device whose playback confirmation comes from the far
// end: a chunk counts as played only once the provider echoes the chunk's
// mark back. It also forwards inbound caller audio.
type Bridge struct {
	conn Conn

	onAudio func([]byte)
	onStop  func()
	onFatal func(error)

	mu        sync.Mutex
	streamSID string
	encoding  audio.EncodingInfo

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan bool

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithStreamSID fixes the stream identifier instead of learning it from the
// provider's start message.
func WithStreamSID(streamSID string) BridgeOption {
	return func(b *Bridge) { b.streamSID = streamSID }
}

// WithBridgeEncoding overrides the assumed media encoding. The provider's
// start message, when one arrives, wins over this.
func WithBridgeEncoding(encoding audio.EncodingInfo) BridgeOption {
	return func(b *Bridge) {
		if !encoding.IsZero() {
			b.encoding = encoding
		}
	}
}

// WithOnAudio registers the consumer for decoded inbound caller audio.
func WithOnAudio(onAudio func([]byte)) BridgeOption {
	return func(b *Bridge) { b.onAudio = onAudio }
}

// WithOnStop registers a callback for the provider's stop message.
func WithOnStop(onStop func()) BridgeOption {
	return func(b *Bridge) { b.onStop = onStop }
}

// WithOnFatal registers a callback for unrecoverable connection failures.
func WithOnFatal(onFatal func(error)) BridgeOption {
	return func(b *Bridge) { b.onFatal = onFatal }
}

// NewBridge wraps an accepted media-stream connection. Call Start to begin
// reading inbound messages.
func NewBridge(conn Conn, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		conn:     conn,
		encoding: audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw},
		pending:  map[string]chan bool{},
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the inbound read loop. Only the first call has any effect.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.readLoop(ctx)
	})
}

// EncodingInfo returns the stream's media encoding.
func (b *Bridge) EncodingInfo() audio.EncodingInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.encoding
}

// Play sends one chunk as a media message followed by its mark, then blocks
// until the provider acknowledges the mark. It returns
// [output.ErrInterrupted] when a clear cut the chunk off before the
// acknowledgement arrived.
func (b *Bridge) Play(ctx context.Context, chunk *audio.Chunk) error {
	ctx, span := tracer.Start(ctx, "telephony.Play")
	defer span.End()

	ack := make(chan bool, 1)
	b.pendingMu.Lock()
	b.pending[chunk.ID] = ack
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, chunk.ID)
		b.pendingMu.Unlock()
	}()

	streamSID := b.currentStreamSID()
	payload := base64.StdEncoding.EncodeToString(chunk.Data)

	b.writeMu.Lock()
	err := b.conn.WriteJSON(mediaMessage(streamSID, payload))
	if err == nil {
		err = b.conn.WriteJSON(markMessage(streamSID, chunk.ID))
	}
	b.writeMu.Unlock()
	if err != nil {
		err = fmt.Errorf("failed to send media chunk: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send media chunk")
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return output.ErrInterrupted
	case played := <-ack:
		if !played {
			return output.ErrInterrupted
		}
		return nil
	}
}

// Interrupt is a pure signal for this device family: audio already on the
// wire cannot be recalled, flushing happens through Clear.
func (b *Bridge) Interrupt() {}

// Clear sends the clear message that flushes the provider's buffered audio
// and releases every chunk still waiting on a mark acknowledgement as
// interrupted.
func (b *Bridge) Clear() error {
	b.writeMu.Lock()
	err := b.conn.WriteJSON(clearMessage(b.currentStreamSID()))
	b.writeMu.Unlock()

	b.releasePending(false)

	if err != nil {
		return fmt.Errorf("failed to send clear: %w", err)
	}
	return nil
}

// Close tears the connection down. In-flight Play calls return interrupted.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.conn.Close()
		b.releasePending(false)
	})
	return err
}

func (b *Bridge) readLoop(ctx context.Context) {
	for {
		var msg inboundMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			select {
			case <-b.closed:
			default:
				if ctx.Err() == nil {
					logger.ErrorContext(ctx, "Media stream read failed", "error", err)
					if b.onFatal != nil {
						b.onFatal(err)
					}
				}
			}
			b.releasePending(false)
			return
		}
		b.handleMessage(ctx, msg)
	}
}

func (b *Bridge) handleMessage(ctx context.Context, msg inboundMessage) {
	switch msg.Event {
	case "connected":
	case "start":
		if msg.Start == nil {
			logger.WarnContext(ctx, "Start message without start payload dropped")
			return
		}
		b.mu.Lock()
		if b.streamSID == "" {
			b.streamSID = msg.Start.StreamSID
		}
		if encoding := parseMediaFormat(msg.Start.MediaFormat); !encoding.IsZero() {
			b.encoding = encoding
		}
		b.mu.Unlock()
	case "media":
		if msg.Media == nil {
			logger.WarnContext(ctx, "Media message without media payload dropped")
			return
		}
		data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			logger.WarnContext(ctx, "Malformed media payload dropped", "error", err)
			return
		}
		if b.onAudio != nil {
			b.onAudio(data)
		}
	case "mark":
		if msg.Mark == nil {
			logger.WarnContext(ctx, "Mark message without mark payload dropped")
			return
		}
		b.pendingMu.Lock()
		ack, ok := b.pending[msg.Mark.Name]
		if ok {
			delete(b.pending, msg.Mark.Name)
		}
		b.pendingMu.Unlock()
		if ok {
			ack <- true
		}
	case "stop":
		if b.onStop != nil {
			b.onStop()
		}
	default:
		logger.WarnContext(ctx, "Unexpected media stream message dropped", "event", msg.Event)
	}
}

func (b *Bridge) currentStreamSID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamSID
}

func (b *Bridge) releasePending(played bool) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = map[string]chan bool{}
	b.pendingMu.Unlock()

	for _, ack := range pending {
		ack <- played
	}
}

func parseMediaFormat(format mediaFormat) audio.EncodingInfo {
	if format.SampleRate <= 0 {
		return audio.EncodingInfo{}
	}
	switch {
	case strings.Contains(format.Encoding, "mulaw"):
		return audio.EncodingInfo{SampleRate: format.SampleRate, Format: audio.EncodingMulaw}
	case strings.Contains(format.Encoding, "alaw"):
		return audio.EncodingInfo{SampleRate: format.SampleRate, Format: audio.EncodingALaw}
	case strings.Contains(format.Encoding, "l16"), strings.Contains(format.Encoding, "linear16"):
		return audio.EncodingInfo{SampleRate: format.SampleRate, Format: audio.EncodingLinear16}
	}
	return audio.EncodingInfo{}
}
