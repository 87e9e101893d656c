// Package apperr はアプリケーション共通のエラー型と HTTP レスポンスへの変換を提供します。
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// エラーコード一覧です。
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeFileNotFound     = "FILE_NOT_FOUND"
	CodeJobNotFound      = "JOB_NOT_FOUND"
	CodeAdapterFailure   = "ADAPTER_FAILURE"
	CodeStorageFailure   = "STORAGE_FAILURE"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error はクライアントに返すコードとメッセージ、内部の原因エラーを保持します。
type Error struct {
	Code    string
	Message string
	Err     error
}

// New は Error を生成します。
func New(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf は err に含まれる Error のコードを返します。該当しない場合は空文字です。
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is は err が指定コードの Error かどうかを判定します。
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// Status はエラーコードに対応する HTTP ステータスを返します。
func Status(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodePermissionDenied, CodeForbidden:
		return http.StatusForbidden
	case CodeFileNotFound, CodeJobNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Respond はエラーを JSON {code, message} に変換してレスポンスします。
// 500 系は内部詳細を隠し、汎用メッセージだけを返します。
func Respond(c *gin.Context, err error) {
	RespondWith(c, err, nil)
}

// RespondWith は Respond に追加フィールドを付けて返します。
func RespondWith(c *gin.Context, err error, extra gin.H) {
	body := gin.H{}
	status := http.StatusInternalServerError

	var appErr *Error
	switch {
	case errors.As(err, &appErr):
		status = Status(appErr.Code)
		body["code"] = appErr.Code
		body["message"] = appErr.Message
		if status >= http.StatusInternalServerError {
			body["message"] = "処理中にエラーが発生しました。"
		}
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
		body["code"] = "REQUEST_CANCELED"
		body["message"] = "リクエストがキャンセルされました。"
	default:
		body["code"] = CodeInternal
		body["message"] = "サーバー内部でエラーが発生しました。"
	}

	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
