package telephony

import "github.com/voicewire/voicewire-core/internal/utils"

// The media-stream wire format is one JSON object per message over a
// persistent duplex connection, compatible with common telephony streaming
// protocols. Key names and shapes must not drift.

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type outboundMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

func mediaMessage(streamSID string, payload string) outboundMessage {
	return outboundMessage{
		Event:     "media",
		StreamSID: streamSID,
		Media:     utils.Ptr(mediaPayload{Payload: payload}),
	}
}

func markMessage(streamSID string, name string) outboundMessage {
	return outboundMessage{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      utils.Ptr(markPayload{Name: name}),
	}
}

func clearMessage(streamSID string) outboundMessage {
	return outboundMessage{Event: "clear", StreamSID: streamSID}
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type startPayload struct {
	StreamSID   string      `json:"streamSid"`
	CallSID     string      `json:"callSid"`
	MediaFormat mediaFormat `json:"mediaFormat"`
}

type inboundMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}
