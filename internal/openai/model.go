package openai

import (
	"encoding/json"
	"fmt"
)

// Programme is the structured form of a parsed training programme.
type Programme struct {
	Name  string         `json:"name"`
	Weeks int            `json:"weeks,omitempty"`
	Days  []ProgrammeDay `json:"days"`
	Notes string         `json:"notes,omitempty"`
}

type ProgrammeDay struct {
	Name      string     `json:"name"`
	Exercises []Exercise `json:"exercises"`
}

type Exercise struct {
	Name      string `json:"name"`
	Sets      int    `json:"sets,omitempty"`
	Reps      string `json:"reps,omitempty"`
	Intensity string `json:"intensity,omitempty"`
	Rest      string `json:"rest,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Analysis is coaching feedback on logged training.
type Analysis struct {
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

type Transcription struct {
	Text string `json:"text"`
}

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("openai api error: status %d: %s", e.StatusCode, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
	}
	return apiErr
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
