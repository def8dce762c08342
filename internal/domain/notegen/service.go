package notegen

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/clinote/clinote/internal/domain/encounter"
	"github.com/clinote/clinote/internal/platform/genai"
)

const minTranscriptLen = 10

// Extractor turns a visit transcript into a validated clinical record.
type Extractor interface {
	Extract(ctx context.Context, transcript string, visitType encounter.VisitType) (encounter.Payload, error)
}

// Service implements Extractor on top of a genai.Generator.
type Service struct {
	gen    genai.Generator
	logger zerolog.Logger
}

func NewService(gen genai.Generator, logger zerolog.Logger) *Service {
	return &Service{gen: gen, logger: logger.With().Str("component", "notegen").Logger()}
}

func (s *Service) Extract(ctx context.Context, transcript string, visitType encounter.VisitType) (encounter.Payload, error) {
	if utf8.RuneCountInString(transcript) < minTranscriptLen {
		return nil, &encounter.ValidationError{
			Field:   "transcript",
			Message: fmt.Sprintf("transcript must be at least %d characters", minTranscriptLen),
		}
	}
	if !visitType.Valid() {
		return nil, &encounter.ValidationError{Field: "visitType", Message: fmt.Sprintf("invalid visitType: %q", string(visitType))}
	}

	prompt, err := buildPrompt(string(visitType), transcript)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := s.gen.GenerateJSON(ctx, prompt, recordSchema)
	if err != nil {
		return nil, err
	}

	// Model output that fails validation is the provider's fault, not the caller's.
	payload, err := encounter.ParsePayload(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("generated record failed validation")
		return nil, fmt.Errorf("%w: %v", genai.ErrUpstream, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: model returned no record", genai.ErrUpstream)
	}
	return payload, nil
}
