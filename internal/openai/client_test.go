package openai

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftlog/liftlog-api/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.OpenAIConfig{
		APIKey:             "sk-test",
		BaseURL:            srv.URL + "/",
		ChatModel:          "gpt-4o-mini",
		TranscriptionModel: "whisper-1",
		Timeout:            5 * time.Second,
	})
}

func chatReply(t *testing.T, w http.ResponseWriter, content any) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": string(raw)}},
		},
	})
}

func TestParseProgramme(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "Day 1: squat 5x5", req.Messages[1].Content)

		chatReply(t, w, Programme{
			Name: "5x5",
			Days: []ProgrammeDay{{Name: "Day 1", Exercises: []Exercise{{Name: "Squat", Sets: 5, Reps: "5"}}}},
		})
	})

	prog, err := client.ParseProgramme(t.Context(), "Day 1: squat 5x5")
	require.NoError(t, err)
	assert.Equal(t, "5x5", prog.Name)
	require.Len(t, prog.Days, 1)
	assert.Equal(t, "Squat", prog.Days[0].Exercises[0].Name)
}

func TestAnalyzeTraining(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, Analysis{Summary: "steady progress", Recommendations: []string{"deload week 5"}})
	})

	analysis, err := client.AnalyzeTraining(t.Context(), `{"sessions":[]}`)
	require.NoError(t, err)
	assert.Equal(t, "steady progress", analysis.Summary)
	assert.Equal(t, []string{"deload week 5"}, analysis.Recommendations)
}

func TestChat_EmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.AnalyzeTraining(t.Context(), "data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty completion")
}

func TestTranscribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "note.m4a", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "audio-bytes", string(data))

		w.Write([]byte(`{"text":"bench three sets of eight"}`))
	})

	tr, err := client.Transcribe(t.Context(), "note.m4a", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "bench three sets of eight", tr.Text)
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	_, err := client.ParseProgramme(t.Context(), "text")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad model", apiErr.Message)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
}

func TestCircuitBreaker_OpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < breakerTrip; i++ {
		_, err := client.ParseProgramme(t.Context(), "text")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}

	_, err := client.ParseProgramme(t.Context(), "text")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "expected open breaker, got %v", err)
	assert.Equal(t, int32(breakerTrip), calls.Load())
}

func TestCircuitBreaker_IgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < breakerTrip+2; i++ {
		_, err := client.ParseProgramme(t.Context(), "text")
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.Equal(t, int32(breakerTrip+2), calls.Load())
}
