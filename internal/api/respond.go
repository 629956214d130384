package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/corrections"
	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/toolloop"
)

// errorBody is the JSON shape of every error response. Commit failures
// carry the failing table, constraint and value so the UI can point at them.
type errorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	Table       string `json:"table,omitempty"`
	Constraint  string `json:"constraint,omitempty"`
	Value       string `json:"value,omitempty"`
	Detail      string `json:"detail,omitempty"`
	ActiveJobID string `json:"active_job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

// writeError maps the error taxonomy to a status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var (
		parseErr    *model.ParseError
		conflict    *model.MappingConflictError
		integrity   *model.ReferentialIntegrityError
		commitErr   *model.CommitTransactionError
		transition  *model.InvalidTransitionError
		loopErr     *model.ToolLoopError
		providerErr *model.ProviderError
	)
	switch {
	case errors.As(err, &parseErr):
		body.Code = "parse_error"
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &conflict):
		body.Code, body.ActiveJobID = "mapping_conflict", conflict.ActiveJobID
		return http.StatusConflict, body
	case errors.As(err, &integrity):
		body.Code = "referential_integrity"
		return http.StatusBadRequest, body
	case errors.As(err, &commitErr):
		body.Code = "commit_failed"
		body.Table, body.Constraint, body.Value, body.Detail = commitErr.Table, commitErr.Constraint, commitErr.Value, commitErr.Detail
		return http.StatusConflict, body
	case errors.As(err, &transition):
		body.Code = "invalid_transition"
		return http.StatusConflict, body
	case errors.Is(err, jobs.ErrJobFinished):
		body.Code = "job_finished"
		return http.StatusConflict, body
	case errors.Is(err, model.ErrNotFound), errors.Is(err, toolloop.ErrNoPendingAction):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, corrections.ErrInvalidCorrection),
		errors.Is(err, corrections.ErrInvalidPeriod),
		errors.Is(err, mapping.ErrInvalidConfirmation),
		errors.Is(err, review.ErrInvalidEdit),
		errors.Is(err, ingest.ErrInvalidUpload):
		body.Code = "bad_request"
		return http.StatusBadRequest, body
	case errors.As(err, &loopErr), errors.As(err, &providerErr):
		body.Code = "provider_error"
		return http.StatusBadGateway, body
	}
	body.Code = "internal"
	return http.StatusInternalServerError, body
}
