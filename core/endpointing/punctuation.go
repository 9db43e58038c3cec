package endpointing

// Punctuation declares an endpoint on a sentence-terminated buffer confirmed
// by the recognizer's speech-final hint, falling back to the time-cutoff test
// otherwise.
type Punctuation struct {
	fallback *TimeCutoff
}

// NewPunctuation builds the punctuation engine. The options configure the
// embedded time-cutoff fallback.
func NewPunctuation(opts ...TimeCutoffOption) *Punctuation {
	return &Punctuation{fallback: NewTimeCutoff(opts...)}
}

func (e *Punctuation) Evaluate(frame Frame) Decision {
	if frame.SpeechFinal && endsWithTerminator(frame.Buffer) {
		return Decision{IsEndpoint: true, Source: SourcePunctuation}
	}
	return e.fallback.Evaluate(frame)
}
