package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedEmotions is returned when an emotional-state document is not a
// JSON object carrying a numeric value for every emotion.
var ErrMalformedEmotions = errors.New("malformed emotional state")

// Emotion indexes EmotionalState.
type Emotion int

const (
	Joy Emotion = iota
	Sadness
	Anger
	Fear
	Surprise
	Disgust
	Anticipation
	Jealousy
	Possessiveness
	Love
	Hate
	Trust
	Arousal

	numEmotions
)

var emotionNames = [numEmotions]string{
	"joy", "sadness", "anger", "fear", "surprise", "disgust", "anticipation",
	"jealousy", "possessiveness", "love", "hate", "trust", "arousal",
}

func (e Emotion) String() string {
	if e < 0 || e >= numEmotions {
		return "emotion(" + strconv.Itoa(int(e)) + ")"
	}
	return emotionNames[e]
}

// Emotions lists every emotion in canonical order.
func Emotions() []Emotion {
	out := make([]Emotion, numEmotions)
	for i := range out {
		out[i] = Emotion(i)
	}
	return out
}

// EmotionalState holds one intensity in [0,1] per emotion.
type EmotionalState [numEmotions]float64

const defaultIntensity = 0.5

// DefaultEmotionalState returns a vector with every emotion at 0.5.
func DefaultEmotionalState() EmotionalState {
	var s EmotionalState
	for i := range s {
		s[i] = defaultIntensity
	}
	return s
}

// Get returns the intensity of e.
func (s EmotionalState) Get(e Emotion) float64 { return s[e] }

// MarshalJSON writes the vector as an object in canonical emotion order.
func (s EmotionalState) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(emotionNames[i]))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts only complete vectors; see ParseEmotionalState.
func (s *EmotionalState) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEmotionalState(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseEmotionalState decodes a JSON object with a numeric value for each of
// the 13 emotions. Unknown keys are ignored and values are clamped to [0,1].
// Anything else yields ErrMalformedEmotions.
func ParseEmotionalState(raw string) (EmotionalState, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return EmotionalState{}, fmt.Errorf("%w: %v", ErrMalformedEmotions, err)
	}

	var s EmotionalState
	for i, name := range emotionNames {
		v, ok := fields[name]
		if !ok {
			return EmotionalState{}, fmt.Errorf("%w: missing %q", ErrMalformedEmotions, name)
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil || string(v) == "null" {
			return EmotionalState{}, fmt.Errorf("%w: %q is not a number", ErrMalformedEmotions, name)
		}
		s[i] = clamp(f)
	}
	return s, nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Indented renders the vector as two-space indented JSON.
func (s EmotionalState) Indented() string {
	raw, _ := s.MarshalJSON()
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
