package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/samirrijal/plonk/internal/adapters/openai"
	"github.com/samirrijal/plonk/internal/core/domain"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testViews() []domain.View {
	return []domain.View{
		{ID: "v1", Image: domain.NewImageRef([]byte("jpeg-1"), "image/jpeg")},
		{ID: "v2", Image: domain.NewImageRef([]byte("jpeg-2"), "image/jpeg")},
	}
}

func newInferencer(rt roundTripFunc) *openai.Inferencer {
	return openai.NewInferencer(openai.Config{
		APIKey:     "sk-test",
		Model:      "gpt-5",
		HTTPClient: &http.Client{Transport: rt},
	})
}

func TestInferencer_Success(t *testing.T) {
	inf := newInferencer(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer sk-test" {
			t.Fatalf("authorization = %q", req.Header.Get("Authorization"))
		}
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", req.URL.Path)
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"model":"gpt-5"`) {
			t.Fatalf("request body missing model: %s", body)
		}
		if strings.Count(string(body), "data:image/jpeg;base64,") != 2 {
			t.Fatalf("expected 2 inline images in the request")
		}
		if !strings.Contains(string(body), `"json_schema"`) {
			t.Fatal("expected a strict json_schema response format")
		}
		return response(http.StatusOK, `{"choices":[{"message":{"content":"{\"explanation\":\"boulangerie signage\",\"country\":\"France\",\"region\":\"Ile-de-France\",\"latitude\":48.8566,\"longitude\":2.3522,\"confidence\":0.82}"}}]}`), nil
	})

	got, err := inf.Infer(context.Background(), testViews())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Location.Lat != 48.8566 || got.Location.Lon != 2.3522 {
		t.Errorf("location = %+v", got.Location)
	}
	if got.Confidence != 0.82 {
		t.Errorf("confidence = %f", got.Confidence)
	}
	if got.Country != "France" || got.Region != "Ile-de-France" {
		t.Errorf("country/region = %q/%q", got.Country, got.Region)
	}
	if len(got.SourceViewIDs) != 2 || got.SourceViewIDs[0] != "v1" {
		t.Errorf("source views = %v", got.SourceViewIDs)
	}
}

func TestInferencer_RateLimited(t *testing.T) {
	inf := newInferencer(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusTooManyRequests, `{"error":{"message":"rate limit"}}`), nil
	})

	_, err := inf.Infer(context.Background(), testViews())
	ie, ok := domain.AsInferenceError(err)
	if !ok {
		t.Fatalf("expected an InferenceError, got %v", err)
	}
	if ie.Kind != domain.InferenceRateLimited {
		t.Errorf("kind = %s, want rate_limited", ie.Kind)
	}
	if ie.Backend != "openai" {
		t.Errorf("backend = %s", ie.Backend)
	}
}

func TestInferencer_ServerErrorIsBackendFault(t *testing.T) {
	inf := newInferencer(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusInternalServerError, "upstream exploded"), nil
	})

	_, err := inf.Infer(context.Background(), testViews())
	ie, ok := domain.AsInferenceError(err)
	if !ok || ie.Kind != domain.InferenceBackendFault {
		t.Fatalf("expected a backend fault, got %v", err)
	}
}

func TestInferencer_UnparseableContent(t *testing.T) {
	bodies := []string{
		`{"choices":[{"message":{"content":"I think it is France"}}]}`,
		`{"choices":[{"message":{"content":""}}]}`,
		`{"choices":[]}`,
		`{bad json`,
	}
	for _, body := range bodies {
		inf := newInferencer(func(req *http.Request) (*http.Response, error) {
			return response(http.StatusOK, body), nil
		})
		_, err := inf.Infer(context.Background(), testViews())
		ie, ok := domain.AsInferenceError(err)
		if !ok || ie.Kind != domain.InferenceUnparseable {
			t.Errorf("body %q: expected unparseable, got %v", body, err)
		}
	}
}

func TestInferencer_TransportFailureIsBackendFault(t *testing.T) {
	inf := newInferencer(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := inf.Infer(context.Background(), testViews())
	ie, ok := domain.AsInferenceError(err)
	if !ok || ie.Kind != domain.InferenceBackendFault {
		t.Fatalf("expected a backend fault, got %v", err)
	}
}

func TestInferencer_NoViews(t *testing.T) {
	inf := newInferencer(func(req *http.Request) (*http.Response, error) {
		t.Fatal("round trip should not execute without views")
		return nil, nil
	})
	if _, err := inf.Infer(context.Background(), nil); err == nil {
		t.Fatal("expected an error for an empty view set")
	}
}
