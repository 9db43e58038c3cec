// Package deepgram renders text to speech through Deepgram's streaming speak
// API.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	env "github.com/caarlos0/env/v11"
	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/synthesize"
)

type config struct {
	APIKey string `env:"DEEPGRAM_API_KEY,notEmpty"`
	URL    string `env:"DEEPGRAM_SPEAK_URL" envDefault:"wss://api.deepgram.com/v1/speak"`
	Voice  string `env:"DEEPGRAM_SPEAK_MODEL" envDefault:"aura-2-thalia-en"`
}

// SynthesisClient opens rendering streams against the speak API. One client
// can serve many streams; each stream holds its own websocket.
type SynthesisClient struct {
	cfg config
}

// NewSynthesisClient reads the Deepgram configuration from the environment.
func NewSynthesisClient() (*SynthesisClient, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load deepgram configuration: %w", err)
	}
	return &SynthesisClient{cfg: cfg}, nil
}

// OpenStream dials the speak API and returns a stream ready for text.
func (c *SynthesisClient) OpenStream(ctx context.Context, opts ...synthesize.Option) (synthesize.Stream, error) {
	options := synthesize.Options{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	conn, err := c.connectWebsocket(ctx, options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	s := newStream(conn, options)
	go s.readAndProcessMessages(ctx)
	return s, nil
}

func (c *SynthesisClient) connectWebsocket(ctx context.Context, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram speak url: %w", err)
	}

	queryParams := speakURL.Query()
	queryParams.Set("encoding", encodingInfo.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	queryParams.Set("model", c.cfg.Voice)
	queryParams.Set("container", "none")
	speakURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"Token " + c.cfg.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}
