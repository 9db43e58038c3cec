package deepgram

import (
	"fmt"

	"github.com/voicewire/voicewire-core/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     string
}

func convertEncoding(encoding audio.EncodingInfo) (encodingInfo, error) {
	converted := encodingInfo{}

	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return encodingInfo{}, fmt.Errorf("unsupported sample rate: %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.Format = "linear16"
	case audio.EncodingALaw:
		converted.Format = "alaw"
		if converted.SampleRate != 8000 {
			return encodingInfo{}, fmt.Errorf("unsupported sample rate for alaw encoding: %d", converted.SampleRate)
		}
	case audio.EncodingMulaw:
		converted.Format = "mulaw"
		if converted.SampleRate != 8000 {
			return encodingInfo{}, fmt.Errorf("unsupported sample rate for mulaw encoding: %d", converted.SampleRate)
		}
	default:
		return encodingInfo{}, fmt.Errorf("unsupported encoding: %s", encoding.Format.Name())
	}

	return converted, nil
}
