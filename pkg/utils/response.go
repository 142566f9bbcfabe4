package utils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeSessionNotFound     = "session_not_found"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeMethodNotAllowed    = "method_not_allowed"
	CodeInternal            = "internal"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Default().Error("failed to encode response", "error", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorBody{Error: message, Code: code})
}

// RespondServiceError 将服务层错误映射为状态码与错误码
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := DescribeError(err)
	logError(r.Context(), status, err)
	RespondJSON(w, status, body)
}

// RespondServiceErrorWithSession 同 RespondServiceError，并附带会话ID以便客户端重试
func RespondServiceErrorWithSession(w http.ResponseWriter, r *http.Request, err error, sessionID string) {
	status, body := DescribeError(err)
	body.SessionID = sessionID
	logError(r.Context(), status, err)
	RespondJSON(w, status, body)
}

// DescribeError maps err onto an HTTP status and a client-safe body.
// Upstream and internal failures never expose the underlying cause.
func DescribeError(err error) (int, ErrorBody) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, ErrorBody{Error: publicMessage(err, apperr.ErrValidation), Code: CodeInvalidRequest}
	case errors.Is(err, apperr.ErrSessionNotFound):
		return http.StatusNotFound, ErrorBody{Error: "session not found", Code: CodeSessionNotFound}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: publicMessage(err, apperr.ErrNotFound), Code: CodeNotFound}
	case errors.Is(err, apperr.ErrUpstream), errors.Is(err, apperr.ErrParse):
		return http.StatusBadGateway, ErrorBody{Error: "upstream service unavailable", Code: CodeUpstreamUnavailable}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: "internal error", Code: CodeInternal}
	}
}

// DecodeJSON 解析请求体，非法JSON视为校验错误
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return goerr.Wrap(apperr.ErrValidation, "invalid request body", goerr.V("cause", err.Error()))
	}
	return nil
}

func publicMessage(err error, category error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+category.Error())
	if msg == "" || msg == category.Error() {
		return category.Error()
	}
	return msg
}

func logError(ctx context.Context, status int, err error) {
	logger := logging.From(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
		return
	}
	logger.Info("request rejected", "status", status, "error", err)
}
