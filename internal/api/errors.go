package api

import (
	"encoding/json"
	"net/http"

	"github.com/soaringjerry/recipesurvey/internal/middleware"
	"github.com/soaringjerry/recipesurvey/internal/services"
	"github.com/soaringjerry/recipesurvey/internal/utils"
)

type errorBody struct {
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	Fields      map[string]string `json:"fields,omitempty"`
	CurrentStep string            `json:"current_step,omitempty"`
}

var errorStatus = map[services.ErrorCode]int{
	services.ErrorNotFound:          http.StatusNotFound,
	services.ErrorInvalidTransition: http.StatusConflict,
	services.ErrorExpired:           http.StatusGone,
	services.ErrorValidation:        http.StatusUnprocessableEntity,
	services.ErrorPersistence:       http.StatusServiceUnavailable,
	services.ErrorInsufficientData:  http.StatusServiceUnavailable,
	services.ErrorSessionConflict:   http.StatusConflict,
	services.ErrorUnauthorized:      http.StatusUnauthorized,
	services.ErrorInvalid:           http.StatusBadRequest,
	services.ErrorTooManyRequests:   http.StatusTooManyRequests,
}

// participant-facing message per code; ErrorInvalid keeps the service text
var errorMessageKey = map[services.ErrorCode]string{
	services.ErrorNotFound:          "session.not_found",
	services.ErrorInvalidTransition: "session.resume",
	services.ErrorExpired:           "session.expired",
	services.ErrorValidation:        "error.validation",
	services.ErrorPersistence:       "error.unavailable",
	services.ErrorInsufficientData:  "error.insufficient_data",
	services.ErrorSessionConflict:   "session.finished",
	services.ErrorUnauthorized:      "error.unauthorized",
	services.ErrorTooManyRequests:   "error.rate_limited",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		rt.log.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
		return
	}
	status, ok := errorStatus[se.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := errorBody{Error: string(se.Code), Message: se.Message, Fields: se.Fields}
	if key, ok := errorMessageKey[se.Code]; ok {
		body.Message = utils.T(middleware.LocaleFromContext(r.Context()), key)
	}
	if se.Code == services.ErrorInvalidTransition && se.CurrentStep.Valid() {
		body.CurrentStep = se.CurrentStep.String()
	}
	switch se.Code {
	case services.ErrorPersistence:
		rt.log.Error("persistence failure", "path", r.URL.Path, "err", se.Err)
		w.Header().Set("Retry-After", "2")
	case services.ErrorTooManyRequests:
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "10")
		}
	}
	writeJSON(w, status, body)
}
