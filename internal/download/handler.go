package download

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/storage"
)

const tokenHeader = "X-Download-Token"

// Resolver は要求パスを許可ルート配下の絶対パスに解決します（storage.FileStore が実装）。
type Resolver interface {
	Resolve(requested string) (string, error)
	PublicPath(abs string) string
	// OpenPlain は暗号化されたアップロードを復号した内容で開きます。
	OpenPlain(abs string) (io.ReadCloser, int64, error)
}

// Handler は GET /api/download と GET /api/preview を提供します。
type Handler struct {
	files  Resolver
	tokens *TokenIssuer
	log    *slog.Logger
}

func NewHandler(files Resolver, tokens *TokenIssuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{files: files, tokens: tokens, log: logger}
}

// Download は添付ファイルとして返します。
func (h *Handler) Download(c *gin.Context) { h.serve(c, "attachment") }

// Preview はブラウザ内表示用に inline で返します。
func (h *Handler) Preview(c *gin.Context) { h.serve(c, "inline") }

func (h *Handler) serve(c *gin.Context, disposition string) {
	requested := c.Query("path")
	if requested == "" {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "path を指定してください。", nil))
		return
	}

	abs, err := h.files.Resolve(requested)
	if err != nil {
		if apperr.Is(err, apperr.CodeForbidden) {
			h.log.Warn("download path rejected", "path", requested, "ip", c.ClientIP())
		}
		apperr.Respond(c, err)
		return
	}

	publicPath := h.files.PublicPath(abs)
	callerID := auth.UserID(c)
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader(tokenHeader)
	}
	if token != "" {
		if err := h.tokens.Verify(token, publicPath, callerID); err != nil {
			h.log.Warn("download token rejected", "path", publicPath, "err", err)
			apperr.Respond(c, err)
			return
		}
	}

	body, size, err := h.files.OpenPlain(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			apperr.Respond(c, apperr.New(apperr.CodeNotFound, "ファイルが見つかりません。", err))
			return
		}
		h.log.Error("failed to open file for download", "path", publicPath, "err", err)
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "ファイルの読み込みに失敗しました。", err))
		return
	}
	defer body.Close()

	fresh, expires, err := h.tokens.Issue(publicPath, callerID)
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInternal, "トークンの発行に失敗しました。", err))
		return
	}

	name := filepath.Base(abs)
	headers := map[string]string{
		"Content-Disposition":           mime.FormatMediaType(disposition, map[string]string{"filename": name}),
		"Cache-Control":                 "no-store, no-cache, must-revalidate",
		"Pragma":                        "no-cache",
		"Expires":                       "0",
		tokenHeader:                     fresh,
		"X-Download-Token-Expires":      strconv.FormatInt(expires.Unix(), 10),
		"Access-Control-Expose-Headers": tokenHeader,
	}
	c.DataFromReader(http.StatusOK, size, storage.ContentTypeFor(name), body, headers)
}
