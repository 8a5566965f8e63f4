// Package speechgen is the worker side of the narration pipeline: it turns
// section text into phonemes and phonemes into uploaded audio segments.
package speechgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/narrator/internal/kokoro"
	"github.com/drblury/narrator/internal/objectstore"
	runtimepkg "github.com/drblury/narrator/internal/runtime"
	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	"github.com/drblury/narrator/messages"
)

// DefaultContentType is used when the synthesizer does not name one.
const DefaultContentType = "video/iso.segment"

// Speaker is the speech model.
type Speaker interface {
	Phonemize(ctx context.Context, text, voice string) (string, error)
	Synthesize(ctx context.Context, phonemes, voice string, speed float64) (kokoro.Speech, error)
}

var _ Speaker = (*kokoro.Client)(nil)

// Service handles phonemize and synthesize requests.
type Service struct {
	speaker   Speaker
	uploader  objectstore.Uploader
	publisher runtimepkg.Producer
}

func New(speaker Speaker, uploader objectstore.Uploader, publisher runtimepkg.Producer) (*Service, error) {
	var errs []error
	if speaker == nil {
		errs = append(errs, errors.New("speechgen: speaker is required"))
	}
	if uploader == nil {
		errs = append(errs, errors.New("speechgen: uploader is required"))
	}
	if publisher == nil {
		errs = append(errs, errors.New("speechgen: publisher is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Service{speaker: speaker, uploader: uploader, publisher: publisher}, nil
}

// Register binds the handlers to the phonemization and speech-generation
// queues of client.
func (s *Service) Register(client *runtimepkg.Client) error {
	if err := runtimepkg.RegisterHandler(client, handlerpkg.HandlerRegistration[*messages.PhonemizeRequest]{
		Name:    "speechgen-phonemize",
		Queue:   messages.QueuePhonemization,
		Handler: s.HandlePhonemize,
	}); err != nil {
		return err
	}
	return runtimepkg.RegisterHandler(client, handlerpkg.HandlerRegistration[*messages.SynthesizeRequest]{
		Name:    "speechgen-synthesize",
		Queue:   messages.QueueSpeechGeneration,
		Handler: s.HandleSynthesize,
	})
}

// HandlePhonemize converts the request text and publishes the phonemes.
func (s *Service) HandlePhonemize(ctx context.Context, msg handlerpkg.MessageContext[*messages.PhonemizeRequest]) error {
	req := msg.Payload
	voice := messages.VoiceOrDefault(req.Voice)
	msg.Logger.Debug("Converting text into phonemes", loggingpkg.LogFields{
		"book_id":  req.BookID.String(),
		"track_id": req.TrackID,
	})

	phonemes, err := s.speaker.Phonemize(ctx, req.Text, voice)
	if err != nil {
		return fmt.Errorf("phonemize track %d: %w", req.TrackID, err)
	}

	return s.publisher.Publish(ctx, messages.KindPhonemes, &messages.PhonemesResponse{
		BookID:    req.BookID,
		SectionID: req.SectionID,
		TrackID:   req.TrackID,
		Phonemes:  phonemes,
		Voice:     voice,
	}, runtimepkg.WithMetadata(msg.CloneMetadata()))
}

// HandleSynthesize renders the phonemes, uploads the segment to
// <file_path>/<track_id>.m4s and publishes where it went.
func (s *Service) HandleSynthesize(ctx context.Context, msg handlerpkg.MessageContext[*messages.SynthesizeRequest]) error {
	req := msg.Payload
	voice := messages.VoiceOrDefault(req.Voice)
	speed := req.Speed
	if speed == 0 {
		speed = messages.DefaultSpeed
	}
	msg.Logger.Debug("Synthesizing speech", loggingpkg.LogFields{
		"book_id":  req.BookID.String(),
		"track_id": req.TrackID,
	})

	speech, err := s.speaker.Synthesize(ctx, req.Phonemes, voice, speed)
	if err != nil {
		return fmt.Errorf("synthesize track %d: %w", req.TrackID, err)
	}
	contentType := speech.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	key := SegmentKey(req.FilePath, req.TrackID)
	if err := s.uploader.Upload(ctx, key, contentType, speech.Content); err != nil {
		return err
	}

	return s.publisher.Publish(ctx, messages.KindSpeech, &messages.SpeechResponse{
		BookID:    req.BookID,
		SectionID: req.SectionID,
		TrackID:   req.TrackID,
		FilePath:  key,
		Duration:  speech.Duration,
		Bytes:     int64(len(speech.Content)),
	}, runtimepkg.WithMetadata(msg.CloneMetadata()))
}

// SegmentKey is the object key of a track's audio segment.
func SegmentKey(filePath string, trackID int64) string {
	return fmt.Sprintf("%s/%d.m4s", filePath, trackID)
}
