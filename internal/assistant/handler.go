package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/liftlog/liftlog-api/internal/api"
	"github.com/liftlog/liftlog-api/internal/auth"
	"github.com/liftlog/liftlog-api/internal/openai"
	"github.com/liftlog/liftlog-api/internal/quota"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxAudioBytes    = 25 << 20
)

var allowedAudioExt = map[string]bool{
	".flac": true, ".m4a": true, ".mp3": true, ".mp4": true, ".mpeg": true,
	".mpga": true, ".ogg": true, ".wav": true, ".webm": true,
}

// Ledger is the subset of the quota ledger the handlers need.
type Ledger interface {
	CheckAndConsume(ctx context.Context, family quota.Family, userID string) (quota.CheckResult, error)
	Refund(ctx context.Context, family quota.Family, userID string) error
	Usage(ctx context.Context, family quota.Family, userID string) (quota.Usage, error)
}

// Model is the LLM backend behind the metered features.
type Model interface {
	ParseProgramme(ctx context.Context, text string) (*openai.Programme, error)
	AnalyzeTraining(ctx context.Context, trainingData string) (*openai.Analysis, error)
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*openai.Transcription, error)
}

// Handler serves the quota-metered assistant features.
type Handler struct {
	ledger   Ledger
	model    Model
	families []quota.Family
	validate *validator.Validate
}

func NewHandler(ledger Ledger, model Model) *Handler {
	return &Handler{
		ledger: ledger,
		model:  model,
		families: []quota.Family{
			quota.FamilyProgrammeParse,
			quota.FamilyVoiceTranscription,
			quota.FamilyTrainingAnalysis,
		},
		validate: validator.New(),
	}
}

// ParseProgramme converts programme text into structured form.
func (h *Handler) ParseProgramme(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req ParseProgrammeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, ok := h.consume(w, r, quota.FamilyProgrammeParse, claims.UserID)
	if !ok {
		return
	}

	prog, err := h.model.ParseProgramme(r.Context(), req.Text)
	if err != nil {
		slog.Error("parsing programme", "error", err, "user_id", claims.UserID)
		api.HandleError(w, api.ErrBadGateway)
		return
	}

	api.JSON(w, http.StatusOK, ProgrammeResponse{Programme: prog, Remaining: result.Remaining})
}

// AnalyzeTraining produces coaching feedback. The consumed unit is refunded
// when the model call fails.
func (h *Handler) AnalyzeTraining(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req AnalyzeTrainingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if isJSONNull(req.TrainingData) {
		api.HandleError(w, api.NewValidationError("training_data is required"))
		return
	}

	result, ok := h.consume(w, r, quota.FamilyTrainingAnalysis, claims.UserID)
	if !ok {
		return
	}

	analysis, err := h.model.AnalyzeTraining(r.Context(), string(req.TrainingData))
	if err != nil {
		slog.Error("analyzing training", "error", err, "user_id", claims.UserID)
		h.refund(r.Context(), quota.FamilyTrainingAnalysis, claims.UserID)
		api.HandleError(w, api.ErrBadGateway)
		return
	}

	api.JSON(w, http.StatusOK, AnalysisResponse{Analysis: analysis, Remaining: result.Remaining})
}

// Transcribe converts an uploaded voice note to text. The audio is read from
// the multipart field "audio".
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes+(1<<20))
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.HandleError(w, api.ErrPayloadTooLarge)
			return
		}
		api.HandleError(w, api.NewBadRequestError("expected multipart form with an audio file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		api.HandleError(w, api.NewValidationError("audio file is required"))
		return
	}
	defer file.Close()

	if header.Size == 0 {
		api.HandleError(w, api.NewValidationError("audio file is empty"))
		return
	}
	if !allowedAudioExt[strings.ToLower(filepath.Ext(header.Filename))] {
		api.HandleError(w, api.NewValidationError("unsupported audio format"))
		return
	}

	result, ok := h.consume(w, r, quota.FamilyVoiceTranscription, claims.UserID)
	if !ok {
		return
	}

	tr, err := h.model.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		slog.Error("transcribing audio", "error", err, "user_id", claims.UserID)
		api.HandleError(w, api.ErrBadGateway)
		return
	}

	api.JSON(w, http.StatusOK, TranscriptionResponse{Text: tr.Text, Remaining: result.Remaining})
}

// GetUsage reports the caller's standing in one family.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	family := quota.Family(chi.URLParam(r, "family"))
	usage, err := h.ledger.Usage(r.Context(), family, claims.UserID)
	if err != nil {
		if errors.Is(err, quota.ErrInvalidRequest) {
			api.HandleError(w, api.NewNotFoundError("unknown quota family"))
			return
		}
		h.ledgerError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, usage)
}

// ListUsage reports the caller's standing in every family.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	out := make([]quota.Usage, 0, len(h.families))
	for _, f := range h.families {
		usage, err := h.ledger.Usage(r.Context(), f, claims.UserID)
		if err != nil {
			h.ledgerError(w, err)
			return
		}
		out = append(out, usage)
	}

	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.HandleError(w, api.ErrPayloadTooLarge)
			return false
		}
		api.HandleError(w, api.ErrBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return false
	}
	return true
}

// consume charges one unit and writes the error response when the request
// may not proceed.
func (h *Handler) consume(w http.ResponseWriter, r *http.Request, family quota.Family, userID string) (quota.CheckResult, bool) {
	result, err := h.ledger.CheckAndConsume(r.Context(), family, userID)
	if err != nil {
		h.ledgerError(w, err)
		return quota.CheckResult{}, false
	}
	return result, true
}

func (h *Handler) ledgerError(w http.ResponseWriter, err error) {
	if ex, ok := quota.IsExceeded(err); ok {
		api.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
			Error:     "quota exceeded",
			Family:    ex.Family,
			Remaining: ex.Remaining,
		})
		return
	}

	switch {
	case errors.Is(err, quota.ErrLedgerUnavailable):
		api.HandleError(w, api.ErrServiceUnavailable)
	case errors.Is(err, quota.ErrInvalidRequest):
		api.HandleError(w, api.NewBadRequestError(err.Error()))
	default:
		slog.Error("quota ledger", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

// refund returns a unit after a failed model call. It outlives request
// cancellation, and its failure is logged rather than reported.
func (h *Handler) refund(ctx context.Context, family quota.Family, userID string) {
	if err := h.ledger.Refund(context.WithoutCancel(ctx), family, userID); err != nil {
		slog.Error("refunding quota", "error", err, "family", family, "user_id", userID)
	}
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
