package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/orchestrator"
	"github.com/shaiso/fanflow/internal/repo"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation    ErrorCode = "VALIDATION_FAILED"
	ErrCodeDuplicateRun  ErrorCode = "DUPLICATE_RUN"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Fields — ошибки по полям запроса (для VALIDATION_FAILED).
	Fields map[string]string `json:"fields,omitempty"`

	// ExistingRunID — активный run с тем же ключом дедупликации.
	ExistingRunID string `json:"existing_run_id,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON пишет status и data в JSON.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success — 200 с {"data": ...}.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created — 201 с {"data": ...}.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// List — 200 со списком и общим числом элементов.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет ErrorResponse.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest — 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError логирует err и отвечает 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// ValidationFailed — 400 с тегом нарушенного правила для каждого поля,
// например {"Graph.Nodes[0].Kind": "oneof"}.
func ValidationFailed(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Namespace()] = fe.Tag()
	}
	JSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    ErrCodeValidation,
			Message: "request validation failed",
			Fields:  fields,
		},
	})
}

// errorRules сопоставляет доменные ошибки с HTTP ответами.
// Проверяются по порядку, первая совпавшая побеждает.
var errorRules = []struct {
	target error
	status int
	code   ErrorCode
}{
	{orchestrator.ErrFlowNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrInvalidGraph, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrNotTrigger, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrFlowDisabled, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{orchestrator.ErrRunFinished, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{repo.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict},
}

// HandleError отвечает на err по errorRules; DuplicateRunError даёт 409
// с existing_run_id, всё остальное 500. Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	var dup *domain.DuplicateRunError
	if errors.As(err, &dup) {
		JSON(w, http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:          ErrCodeDuplicateRun,
				Message:       err.Error(),
				ExistingRunID: dup.ExistingRunID.String(),
			},
		})
		return true
	}

	for _, rule := range errorRules {
		if errors.Is(err, rule.target) {
			Error(w, rule.status, rule.code, err.Error())
			return true
		}
	}

	InternalError(w, logger, err)
	return true
}
