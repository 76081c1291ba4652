package assistant

import (
	"encoding/json"

	"github.com/liftlog/liftlog-api/internal/openai"
	"github.com/liftlog/liftlog-api/internal/quota"
)

type ParseProgrammeRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

// AnalyzeTrainingRequest accepts training data as any JSON value; it is
// forwarded to the model verbatim.
type AnalyzeTrainingRequest struct {
	TrainingData json.RawMessage `json:"training_data" validate:"required,max=200000"`
}

type ProgrammeResponse struct {
	Programme *openai.Programme    `json:"programme"`
	Remaining map[quota.Period]int `json:"remaining"`
}

type AnalysisResponse struct {
	Analysis  *openai.Analysis     `json:"analysis"`
	Remaining map[quota.Period]int `json:"remaining"`
}

type TranscriptionResponse struct {
	Text      string               `json:"text"`
	Remaining map[quota.Period]int `json:"remaining"`
}

// ExceededResponse is the 429 body for a denied request.
type ExceededResponse struct {
	Error     string               `json:"error"`
	Family    quota.Family         `json:"family"`
	Remaining map[quota.Period]int `json:"remaining"`
}
