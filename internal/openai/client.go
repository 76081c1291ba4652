package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/liftlog/liftlog-api/internal/config"
	"github.com/liftlog/liftlog-api/internal/metrics"
)

const (
	opParseProgramme  = "parse_programme"
	opAnalyzeTraining = "analyze_training"
	opTranscribe      = "transcribe"

	maxResponseBytes = 4 << 20
	breakerTrip      = 5
)

// Client talks to an OpenAI-compatible API. Calls share one circuit breaker
// so a failing upstream is shed quickly instead of holding user requests.
type Client struct {
	httpClient         *http.Client
	baseURL            string
	apiKey             string
	chatModel          string
	transcriptionModel string
	cb                 *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg config.OpenAIConfig) *Client {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Client-side mistakes say nothing about upstream health.
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.LLMCircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &Client{
		httpClient:         &http.Client{Timeout: cfg.Timeout},
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:             cfg.APIKey,
		chatModel:          cfg.ChatModel,
		transcriptionModel: cfg.TranscriptionModel,
		cb:                 cb,
	}
}

// ParseProgramme turns free-form programme text into a structured programme.
func (c *Client) ParseProgramme(ctx context.Context, text string) (*Programme, error) {
	var out Programme
	if err := c.chatJSON(ctx, opParseProgramme, parseProgrammePrompt, text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeTraining produces coaching feedback for a block of training data.
func (c *Client) AnalyzeTraining(ctx context.Context, trainingData string) (*Analysis, error) {
	var out Analysis
	if err := c.chatJSON(ctx, opAnalyzeTraining, analyzeTrainingPrompt, trainingData, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe converts a recorded voice note to text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcription, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.transcriptionModel); err != nil {
		return nil, fmt.Errorf("writing model field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copying audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}
	payload := body.Bytes()
	contentType := mw.FormDataContentType()

	data, err := c.do(ctx, opTranscribe, "/audio/transcriptions", contentType, payload)
	if err != nil {
		return nil, err
	}

	var out Transcription
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding transcription: %w", err)
	}
	return &out, nil
}

func (c *Client) chatJSON(ctx context.Context, op, system, user string, out any) error {
	payload, err := json.Marshal(chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.2,
	})
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	data, err := c.do(ctx, op, "/chat/completions", "application/json", payload)
	if err != nil {
		return err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%s: empty completion", op)
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("%s: decoding completion content: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, path, contentType string, payload []byte) ([]byte, error) {
	start := time.Now()
	data, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling %s: %w", path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, newAPIError(resp.StatusCode, body)
		}
		return body, nil
	})

	metrics.LLMRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.LLMRequestsTotal.WithLabelValues(op, requestStatus(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

func requestStatus(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	default:
		return "error"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
