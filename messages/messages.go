// Package messages defines the typed messages exchanged between the API
// process, the phonemization stage and the speech-generation stage, together
// with the broker topology they travel over.
package messages

import (
	"github.com/google/uuid"

	"github.com/drblury/narrator/internal/runtime/envelope"
)

// Message kinds. Each doubles as the routing key the message is published on.
const (
	KindPhonemize  = "phonemize"
	KindPhonemes   = "phonemes"
	KindSynthesize = "synthesize"
	KindSpeech     = "speech"
)

const (
	DefaultVoice = "am_adam"
	DefaultSpeed = 1.0
)

// PhonemizeRequest asks the phonemization stage to convert section text.
type PhonemizeRequest struct {
	BookID    uuid.UUID `json:"book_id"`
	SectionID int64     `json:"section_id" validate:"required"`
	TrackID   int64     `json:"track_id,omitempty"`
	Text      string    `json:"text" validate:"required"`
	Voice     string    `json:"voice,omitempty"`
}

func (*PhonemizeRequest) Kind() string { return KindPhonemize }

// PhonemesResponse carries the phonemes produced for a PhonemizeRequest.
type PhonemesResponse struct {
	BookID    uuid.UUID `json:"book_id"`
	SectionID int64     `json:"section_id" validate:"required"`
	TrackID   int64     `json:"track_id,omitempty"`
	Phonemes  string    `json:"phonemes" validate:"required"`
	Voice     string    `json:"voice,omitempty"`
}

func (*PhonemesResponse) Kind() string { return KindPhonemes }

// SynthesizeRequest asks the speech-generation stage to render phonemes to
// audio stored under FilePath.
type SynthesizeRequest struct {
	BookID    uuid.UUID `json:"book_id"`
	SectionID int64     `json:"section_id" validate:"required"`
	TrackID   int64     `json:"track_id" validate:"required"`
	Phonemes  string    `json:"phonemes" validate:"required"`
	Voice     string    `json:"voice,omitempty"`
	Speed     float64   `json:"speed,omitempty" validate:"gte=0"`
	FilePath  string    `json:"file_path" validate:"required"`
}

func (*SynthesizeRequest) Kind() string { return KindSynthesize }

// SpeechResponse reports a rendered audio segment.
type SpeechResponse struct {
	BookID    uuid.UUID `json:"book_id"`
	SectionID int64     `json:"section_id"`
	TrackID   int64     `json:"track_id" validate:"required"`
	FilePath  string    `json:"file_path" validate:"required"`
	// Duration is the audio length in seconds.
	Duration float64 `json:"duration"`
	Bytes    int64   `json:"bytes"`
}

func (*SpeechResponse) Kind() string { return KindSpeech }

// VoiceOrDefault returns voice, or DefaultVoice when empty.
func VoiceOrDefault(voice string) string {
	if voice == "" {
		return DefaultVoice
	}
	return voice
}

// Catalog returns one zero value per platform message type.
func Catalog() []envelope.Message {
	return []envelope.Message{
		&PhonemizeRequest{},
		&PhonemesResponse{},
		&SynthesizeRequest{},
		&SpeechResponse{},
	}
}
