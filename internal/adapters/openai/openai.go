package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/pkg/metrics"
)

const backendName = "openai"

const locationPrompt = `You will be given images from a street-level location guessing game. Your task is to analyze these images and determine the most likely location where they were taken.

Carefully analyze each image, paying close attention to the following elements:
1. Landscape and scenery
2. Types of plants and animals
3. Architecture and building styles
4. Vehicles, transportation methods, and which side of the road they are on
5. Road signs, street names, and other written information
6. Cultural indicators (clothing, flags, monuments)
7. Climate and weather conditions

Base your analysis solely on the information provided in the images. Report your confidence as a number between 0 and 1 reflecting how likely your coordinates are within 50 km of the true location.`

// Config configures the OpenAI chat completions backend.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Inferencer asks an OpenAI vision model for a structured location guess.
// The response schema is enforced server-side via strict json_schema output.
type Inferencer struct {
	cfg    Config
	tracer trace.Tracer
}

// NewInferencer builds the OpenAI inference adapter.
func NewInferencer(cfg Config) *Inferencer {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Inferencer{
		cfg:    cfg,
		tracer: otel.Tracer("plonk/openai"),
	}
}

// Backend names this implementation for logs, metrics, and cache keys.
func (c *Inferencer) Backend() string { return backendName }

// Infer sends the views to the chat completions endpoint and parses the
// structured answer. Failures are classified as *domain.InferenceError.
func (c *Inferencer) Infer(ctx context.Context, views []domain.View) (domain.CandidateGuess, error) {
	ctx, span := c.tracer.Start(ctx, "openai.infer")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Int("views", len(views)),
	)

	start := time.Now()
	defer func() {
		metrics.InferenceDuration.WithLabelValues(backendName).Observe(time.Since(start).Seconds())
	}()

	if len(views) == 0 {
		return domain.CandidateGuess{}, c.fault(domain.InferenceBackendFault, errors.New("no views to infer from"))
	}

	body, err := json.Marshal(c.buildRequest(views))
	if err != nil {
		return domain.CandidateGuess{}, c.fault(domain.InferenceBackendFault, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.CandidateGuess{}, c.fault(domain.InferenceBackendFault, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	// The key travels only as a header; it is never echoed into errors.
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return domain.CandidateGuess{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return domain.CandidateGuess{}, c.fault(domain.InferenceTimeout, err)
		default:
			return domain.CandidateGuess{}, c.fault(domain.InferenceBackendFault, fmt.Errorf("request failed: %w", err))
		}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(detail)))
		if res.StatusCode == http.StatusTooManyRequests {
			return domain.CandidateGuess{}, c.fault(domain.InferenceRateLimited, statusErr)
		}
		return domain.CandidateGuess{}, c.fault(domain.InferenceBackendFault, statusErr)
	}

	var payload chatResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return domain.CandidateGuess{}, c.fault(domain.InferenceUnparseable, fmt.Errorf("decode response: %w", err))
	}
	if len(payload.Choices) == 0 || strings.TrimSpace(payload.Choices[0].Message.Content) == "" {
		return domain.CandidateGuess{}, c.fault(domain.InferenceUnparseable, errors.New("response missing content"))
	}

	var loc locationPayload
	if err := json.Unmarshal([]byte(payload.Choices[0].Message.Content), &loc); err != nil {
		return domain.CandidateGuess{}, c.fault(domain.InferenceUnparseable, fmt.Errorf("parse location payload: %w", err))
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

func (c *Inferencer) fault(kind domain.InferenceErrorKind, err error) error {
	metrics.InferenceErrors.WithLabelValues(backendName, string(kind)).Inc()
	return &domain.InferenceError{Kind: kind, Backend: backendName, Err: err}
}

func (c *Inferencer) buildRequest(views []domain.View) chatRequest {
	parts := make([]contentPart, len(views))
	for i, v := range views {
		parts[i] = contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", v.Image.MIME, base64.StdEncoding.EncodeToString(v.Image.Data)),
			},
		}
	}

	return chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: locationPrompt}}},
			{Role: "user", Content: parts},
		},
		ResponseFormat: locationSchema(),
	}
}

// locationSchema is the strict structured output the model must produce.
func locationSchema() map[string]any {
	return map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   "latitude_longitude",
			"strict": true,
			"schema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"explanation": map[string]any{
						"type":        "string",
						"description": "A detailed analysis of the images and the facts from there leading to the final answer",
					},
					"country": map[string]any{
						"type":        "string",
						"description": "The country name",
					},
					"region": map[string]any{
						"type":        "string",
						"description": "The region name",
					},
					"latitude": map[string]any{
						"type":        "number",
						"description": "The latitude coordinate, which represents the north-south position on the Earth's surface.",
					},
					"longitude": map[string]any{
						"type":        "number",
						"description": "The longitude coordinate, which represents the east-west position on the Earth's surface.",
					},
					"confidence": map[string]any{
						"type":        "number",
						"description": "Confidence in the answer, between 0 and 1.",
					},
				},
				"required":             []string{"explanation", "country", "region", "latitude", "longitude", "confidence"},
				"additionalProperties": false,
			},
		},
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type locationPayload struct {
	Explanation string  `json:"explanation"`
	Country     string  `json:"country"`
	Region      string  `json:"region"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Confidence  float64 `json:"confidence"`
}
