package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRespondStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"invalid", New(CodeInvalidInput, "入力が不正です", nil), http.StatusBadRequest, CodeInvalidInput, "入力が不正です"},
		{"premium", New(CodePermissionDenied, "プレミアム限定", nil), http.StatusForbidden, CodePermissionDenied, "プレミアム限定"},
		{"missing", fmt.Errorf("wrapped: %w", New(CodeFileNotFound, "見つかりません", nil)), http.StatusNotFound, CodeFileNotFound, "見つかりません"},
		{"limit", New(CodeLimitExceeded, "大きすぎます", nil), http.StatusRequestEntityTooLarge, CodeLimitExceeded, "大きすぎます"},
		{"adapter hides detail", New(CodeAdapterFailure, "pdfcpu: xref corrupt", errors.New("boom")), http.StatusInternalServerError, CodeAdapterFailure, "処理中にエラーが発生しました。"},
		{"canceled", context.Canceled, http.StatusRequestTimeout, "REQUEST_CANCELED", "リクエストがキャンセルされました。"},
		{"plain", errors.New("x"), http.StatusInternalServerError, CodeInternal, "サーバー内部でエラーが発生しました。"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(rec)
			Respond(ctx, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var payload map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if payload["code"] != tc.code {
				t.Fatalf("code = %s, want %s", payload["code"], tc.code)
			}
			if payload["message"] != tc.message {
				t.Fatalf("message = %s, want %s", payload["message"], tc.message)
			}
		})
	}
}

func TestRespondWithExtra(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	RespondWith(ctx, New(CodeAdapterFailure, "detail", nil), gin.H{"jobId": "job-1"})

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["jobId"] != "job-1" {
		t.Fatalf("expected jobId in body: %#v", payload)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "x", nil))
	if !Is(err, CodeForbidden) {
		t.Fatal("expected Is to unwrap")
	}
	if Is(errors.New("x"), CodeForbidden) {
		t.Fatal("plain error must not match")
	}
}
