package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/pkg/metrics"
)

const backendName = "gemini"

const locationPrompt = `You will be given images from a street-level location guessing game. Analyze them and determine the most likely location where they were taken.

Pay close attention to: landscape and scenery, plants and animals, architecture, vehicles and driving side, road signs and written language, cultural indicators, climate.

Answer with JSON only. Report confidence as a number between 0 and 1 reflecting how likely your coordinates are within 50 km of the true location.`

// Config configures the Gemini backend.
type Config struct {
	APIKey string
	Model  string
}

// Inferencer asks a Gemini vision model for a structured location guess. The
// model is pinned to JSON output with an explicit response schema.
type Inferencer struct {
	client *genai.Client
	model  *genai.GenerativeModel
	tracer trace.Tracer
}

// NewInferencer builds the Gemini inference adapter. Close releases the
// underlying client when the player shuts down.
func NewInferencer(ctx context.Context, cfg Config) (*Inferencer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(locationPrompt)}}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = locationSchema()

	return &Inferencer{
		client: client,
		model:  model,
		tracer: otel.Tracer("plonk/gemini"),
	}, nil
}

// Close releases the underlying API client.
func (c *Inferencer) Close() error { return c.client.Close() }

// Backend names this implementation for logs, metrics, and cache keys.
func (c *Inferencer) Backend() string { return backendName }

// Infer sends the views to Gemini and parses the structured answer. Failures
// are classified as *domain.InferenceError.
func (c *Inferencer) Infer(ctx context.Context, views []domain.View) (domain.CandidateGuess, error) {
	ctx, span := c.tracer.Start(ctx, "gemini.infer")
	defer span.End()
	span.SetAttributes(attribute.Int("views", len(views)))

	start := time.Now()
	defer func() {
		metrics.InferenceDuration.WithLabelValues(backendName).Observe(time.Since(start).Seconds())
	}()

	if len(views) == 0 {
		return domain.CandidateGuess{}, fault(domain.InferenceBackendFault, errors.New("no views to infer from"))
	}

	resp, err := c.model.GenerateContent(ctx, viewParts(views)...)
	if err != nil {
		return domain.CandidateGuess{}, classify(ctx, err)
	}

	text := responseText(resp)
	if text == "" {
		return domain.CandidateGuess{}, fault(domain.InferenceUnparseable, errors.New("response missing text"))
	}
	return toCandidate(text, views)
}

// viewParts converts captured views into inline image parts.
func viewParts(views []domain.View) []genai.Part {
	parts := make([]genai.Part, len(views))
	for i, v := range views {
		parts[i] = genai.ImageData(imageFormat(v.Image.MIME), v.Image.Data)
	}
	return parts
}

// imageFormat strips the MIME prefix: the SDK wants "jpeg", not "image/jpeg".
func imageFormat(mime string) string {
	return strings.TrimPrefix(mime, "image/")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String())
}

func toCandidate(text string, views []domain.View) (domain.CandidateGuess, error) {
	var loc struct {
		Explanation string  `json:"explanation"`
		Country     string  `json:"country"`
		Region      string  `json:"region"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &loc); err != nil {
		return domain.CandidateGuess{}, fault(domain.InferenceUnparseable, fmt.Errorf("parse location payload: %w", err))
	}

	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return domain.CandidateGuess{
		Location:      domain.GeoPoint{Lat: loc.Latitude, Lon: loc.Longitude},
		Confidence:    loc.Confidence,
		Rationale:     loc.Explanation,
		Country:       loc.Country,
		Region:        loc.Region,
		SourceViewIDs: ids,
	}, nil
}

// classify maps SDK failures onto the inference error taxonomy.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fault(domain.InferenceTimeout, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 {
			return fault(domain.InferenceRateLimited, err)
		}
		return fault(domain.InferenceBackendFault, err)
	}
	return fault(domain.InferenceBackendFault, err)
}

func fault(kind domain.InferenceErrorKind, err error) error {
	metrics.InferenceErrors.WithLabelValues(backendName, string(kind)).Inc()
	return &domain.InferenceError{Kind: kind, Backend: backendName, Err: err}
}

// locationSchema mirrors the strict output contract used by the OpenAI
// backend so both produce interchangeable candidates.
func locationSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"explanation": {Type: genai.TypeString, Description: "A detailed analysis of the images leading to the final answer"},
			"country":     {Type: genai.TypeString, Description: "The country name"},
			"region":      {Type: genai.TypeString, Description: "The region name"},
			"latitude":    {Type: genai.TypeNumber, Description: "The latitude coordinate"},
			"longitude":   {Type: genai.TypeNumber, Description: "The longitude coordinate"},
			"confidence":  {Type: genai.TypeNumber, Description: "Confidence in the answer, between 0 and 1"},
		},
		Required: []string{"explanation", "country", "region", "latitude", "longitude", "confidence"},
	}
}
