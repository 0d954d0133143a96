package statsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed upstream call.
type Kind string

const (
	KindValidation Kind = "validation"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindServer     Kind = "server"
	KindUnexpected Kind = "unexpected"
)

// User facing messages per classification.
const (
	MessageValidation = "必要なパラメータが正しく設定されていません。必須パラメータや形式を確認してください。"
	MessageForbidden  = "APIキーが存在しないか無効です。APIキーの設定を確認してください。"
	MessageNotFound   = "指定されたURLに対応するAPIが存在しません。APIのアドレスを確認してください。"
	MessageServer     = "APIサーバーに問題が発生しました。時間をおいて再度お試しください。"
	MessageUnexpected = "予期しないエラーが発生しました。"
)

// APIError is the classified form of every failure returned by Client.
// Status is zero when no response was received.
type APIError struct {
	Status     int
	Kind       Kind
	Message    string
	Validation *ValidationPayload
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("statsapi: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("statsapi: %s (status %d)", e.Kind, e.Status)
}

// Unwrap exposes the underlying cause.
func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *APIError) Retryable() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

// ValidationIssue is one entry of a schema-validation failure body.
type ValidationIssue struct {
	Code     string `json:"code" yaml:"code"`
	Expected string `json:"expected,omitempty" yaml:"expected"`
	Received string `json:"received,omitempty" yaml:"received"`
	Path     []any  `json:"path" yaml:"path"`
	Message  string `json:"message" yaml:"message"`
}

// ValidationPayload is the body returned when request parameters fail schema validation.
type ValidationPayload struct {
	Success bool `json:"success"`
	Error   struct {
		Issues []ValidationIssue `json:"issues"`
		Name   string            `json:"name"`
	} `json:"error"`
}

// Classify builds the APIError for a response status and body. cause may be nil.
func Classify(status int, body []byte, cause error) *APIError {
	apiErr := &APIError{Status: status, Err: cause}
	switch status {
	case http.StatusBadRequest:
		apiErr.Kind = KindValidation
		apiErr.Message = MessageValidation
		apiErr.Validation = parseValidation(body)
	case http.StatusForbidden:
		apiErr.Kind = KindForbidden
		apiErr.Message = MessageForbidden
	case http.StatusNotFound:
		apiErr.Kind = KindNotFound
		apiErr.Message = MessageNotFound
	case http.StatusInternalServerError:
		apiErr.Kind = KindServer
		apiErr.Message = MessageServer
	default:
		apiErr.Kind = KindUnexpected
		apiErr.Message = MessageUnexpected
	}
	return apiErr
}

func parseValidation(body []byte) *ValidationPayload {
	if len(body) == 0 {
		return nil
	}
	var payload ValidationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	if payload.Success || len(payload.Error.Issues) == 0 {
		return nil
	}
	return &payload
}

// IsAPIError reports whether err carries a classified upstream failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsValidationError reports whether err is a 400 whose body described schema-validation issues.
func IsValidationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Validation != nil
}

// AsAPIError extracts the classified error, classifying anything else as unexpected.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Classify(0, nil, err)
}
