package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/transcribe"
)

// maxReconnects bounds how many consecutive reconnect attempts are made
// before the leg is declared fatally dead.
const maxReconnects = 3

// Transcribe opens the live transcription stream and starts delivering
// results through the registered callbacks. It returns once the stream is
// open; delivery continues until ctx is cancelled, Close is called, or the
// reconnect budget is spent.
func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...transcribe.Option) error {
	options := &transcribe.Options{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}
	s.silenceValue = options.EncodingInfo.SilenceValue()

	conn, err := s.connectWebsocket(encoding)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.swapConn(conn)
	go s.readAndProcessMessages(ctx, conn, encoding, *options)

	return nil
}

func (s *TranscriptionClient) connectWebsocket(encoding encodingInfo) (*websocket.Conn, error) {
	listenURL, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram listen url: %w", err)
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format)
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", s.cfg.Model)
	queryParams.Set("language", s.cfg.Language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(listenURL.String(),
		http.Header{"Authorization": {"Token " + s.cfg.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, encoding encodingInfo, options transcribe.Options) {
	silenceCtx, silenceCancel := context.WithCancel(ctx)
	defer silenceCancel()
	go s.generateSilence(silenceCtx, options.EncodingInfo)

	reconnects := 0
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if s.closed.Load() || ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.swapConn(nil)
				return
			}

			logger.WarnContext(ctx, "Deepgram websocket dropped", "error", err)
			conn = nil
			for conn == nil && reconnects < maxReconnects {
				reconnects++
				time.Sleep(time.Duration(reconnects) * 250 * time.Millisecond)
				conn, err = s.connectWebsocket(encoding)
				if err != nil {
					logger.WarnContext(ctx, "Deepgram reconnect failed",
						"attempt", reconnects, "error", err)
				}
			}
			if conn == nil {
				s.swapConn(nil)
				logger.ErrorContext(ctx, "Deepgram reconnect budget spent", "error", err)
				if options.FatalCallback != nil {
					options.FatalCallback(fmt.Errorf("transcription leg died: %w", err))
				}
				return
			}
			s.swapConn(conn)
			continue
		}

		reconnects = 0
		if msgType != websocket.BinaryMessage {
			s.processMessage(ctx, msg, options)
		}
	}
}

func (s *TranscriptionClient) processMessage(ctx context.Context, msg []byte, options transcribe.Options) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.WarnContext(ctx, "Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.WarnContext(ctx, "Failed to unmarshal deepgram transcript", "error", err)
			return
		}

		result := transcribe.Transcription{
			IsFinal:     msgResp.IsFinal,
			SpeechFinal: msgResp.SpeechFinal,
			Duration:    time.Duration(msgResp.Duration * float64(time.Second)),
		}
		if len(msgResp.Channel.Alternatives) > 0 {
			alternative := msgResp.Channel.Alternatives[0]
			result.Message = strings.TrimSpace(alternative.Transcript)
			result.Confidence = alternative.Confidence
		}
		if result.Message != "" {
			s.unendedSegment.Store(true)
		}
		if result.IsFinal && result.SpeechFinal {
			s.unendedSegment.Store(false)
		}
		if options.ResultCallback != nil {
			options.ResultCallback(result)
		}

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.WarnContext(ctx, "Failed to unmarshal deepgram utterance end", "error", err)
			return
		}

		if s.unendedSegment.Swap(false) && options.ResultCallback != nil {
			options.ResultCallback(transcribe.Transcription{UtteranceEnd: true})
		}

	case api.TypeSpeechStartedResponse:
		var msgResp api.SpeechStartedResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.WarnContext(ctx, "Failed to unmarshal deepgram speech start", "error", err)
			return
		}

		s.unendedSegment.Store(true)
		if options.SpeechStartedCallback != nil {
			options.SpeechStartedCallback()
		}
	}
}

// generateSilence keeps the recognizer's silence detection honest when the
// caller's audio source pauses: after 50ms without audio it feeds silence
// frames, and after a second of that it degrades to keep-alives so the
// connection survives long quiet stretches without billing for audio.
func (s *TranscriptionClient) generateSilence(ctx context.Context, encoding audio.EncodingInfo) {
	type generatorState string
	const (
		stateWaiting   generatorState = "waiting"
		stateSilence   generatorState = "silence"
		stateKeepAlive generatorState = "keepAlive"
	)

	const frameDuration = 50 * time.Millisecond
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	chunk := make([]byte, encoding.Bytes(frameDuration))
	for i := range chunk {
		chunk[i] = encoding.SilenceValue()
	}

	state := stateWaiting
	var firstSilenceTime time.Time
	var lastKeepAliveTime time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch state {
			case stateWaiting:
				if s.sinceLastAudio() > frameDuration {
					state = stateSilence
					firstSilenceTime = time.Now()
				}

			case stateSilence:
				if s.sinceLastAudio() < frameDuration {
					state = stateWaiting
					continue
				}
				if time.Since(firstSilenceTime) >= time.Second {
					state = stateKeepAlive
					lastKeepAliveTime = time.Now()
					continue
				}
				if err := s.sendSilence(chunk); err != nil {
					logger.WarnContext(ctx, "Failed to send silence frame", "error", err)
				}

			case stateKeepAlive:
				if s.sinceLastAudio() < frameDuration {
					state = stateWaiting
					continue
				}
				if time.Since(lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = time.Now()
					s.sendKeepAlive(ctx)
				}
			}
		}
	}
}
