// Package upload は PDF のアップロードを受け付けます。
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/pdf"
	"github.com/yourusername/easypdf/internal/repository"
	"github.com/yourusername/easypdf/internal/storage"
)

const (
	maxFilesPerRequest = 20
	multipartOverhead  = 1 << 20
)

// Store はアップロードファイルの保存先です（storage.FileStore が実装）。
type Store interface {
	SaveUpload(originalName, ext string, r io.Reader, maxBytes int64) (*storage.StoredFile, error)
	PlainPath(path string) (string, func(), error)
	PublicPath(abs string) string
}

// Config はアップロードの制限値です。
type Config struct {
	MaxFileSize      int64
	AllowedMIMETypes []string
}

// Handler は POST /api/upload を処理します。
type Handler struct {
	store Store
	files repository.FileRepository
	cfg   Config
	log   *slog.Logger
}

func NewHandler(store Store, files repository.FileRepository, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.AllowedMIMETypes) == 0 {
		cfg.AllowedMIMETypes = []string{"application/pdf"}
	}
	return &Handler{store: store, files: files, cfg: cfg, log: logger}
}

// UploadedFile はアップロード結果の1件です。
type UploadedFile struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	FilePath  string `json:"filePath"`
	Size      int64  `json:"size"`
	Pages     int    `json:"pages"`
	MimeType  string `json:"mimeType"`
	Encrypted bool   `json:"encrypted"`
}

// Upload は multipart の files / files[] を検証して保存します。
// 1つでも不正なファイルがあれば何も保存しません。
func (h *Handler) Upload(c *gin.Context) {
	if h.cfg.MaxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxFileSize*maxFilesPerRequest+multipartOverhead)
	}
	form, err := c.MultipartForm()
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "multipart/form-data でファイルを送信してください。", err))
		return
	}

	var headers []*multipart.FileHeader
	for _, key := range []string{"files", "files[]", "file"} {
		headers = append(headers, form.File[key]...)
	}
	if len(headers) == 0 {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "ファイルが選択されていません。", nil))
		return
	}
	if len(headers) > maxFilesPerRequest {
		apperr.Respond(c, apperr.New(apperr.CodeLimitExceeded, fmt.Sprintf("一度にアップロードできるのは%d件までです。", maxFilesPerRequest), nil))
		return
	}

	mimeTypes := make([]string, len(headers))
	for i, fh := range headers {
		mt, err := h.validate(fh)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		mimeTypes[i] = mt
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)
	results := make([]UploadedFile, 0, len(headers))
	var saved []string
	for i, fh := range headers {
		uploaded, path, err := h.saveOne(ctx, fh, mimeTypes[i], userID)
		if err != nil {
			for _, p := range saved {
				_ = os.Remove(p)
			}
			apperr.Respond(c, err)
			return
		}
		saved = append(saved, path)
		results = append(results, *uploaded)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"files":   results,
	})
}

// validate はサイズと内容から判定した MIME タイプを検証します。
func (h *Handler) validate(fh *multipart.FileHeader) (string, error) {
	if h.cfg.MaxFileSize > 0 && fh.Size > h.cfg.MaxFileSize {
		return "", apperr.New(apperr.CodeLimitExceeded,
			fmt.Sprintf("%s のサイズが上限(%dMB)を超えています。", fh.Filename, h.cfg.MaxFileSize/1024/1024), nil)
	}
	f, err := fh.Open()
	if err != nil {
		return "", apperr.New(apperr.CodeInvalidInput, "ファイルを読み込めませんでした。", err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", apperr.New(apperr.CodeInvalidInput, "ファイルを読み込めませんでした。", err)
	}
	for _, allowed := range h.cfg.AllowedMIMETypes {
		if mt.Is(allowed) {
			return allowed, nil
		}
	}
	return "", apperr.New(apperr.CodeInvalidInput,
		fmt.Sprintf("%s は対応していない形式です (detected: %s)", fh.Filename, mt.String()), nil)
}

func (h *Handler) saveOne(ctx context.Context, fh *multipart.FileHeader, mimeType, userID string) (*UploadedFile, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", apperr.New(apperr.CodeInvalidInput, "ファイルを読み込めませんでした。", err)
	}
	defer f.Close()

	ext := ""
	if mt := mimetype.Lookup(mimeType); mt != nil {
		ext = mt.Extension()
	}
	stored, err := h.store.SaveUpload(fh.Filename, ext, f, h.cfg.MaxFileSize)
	if err != nil {
		return nil, "", err
	}

	pages := 0
	if mimeType == "application/pdf" {
		pages, err = h.pageCount(ctx, stored.Path)
		if err != nil {
			_ = os.Remove(stored.Path)
			return nil, "", apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("%s はPDFとして読み込めませんでした。", fh.Filename), err)
		}
	}

	record := &models.PDFFile{
		OriginalName:   fh.Filename,
		StoredFileName: stored.Name,
		FilePath:       stored.Path,
		FileSize:       stored.Size,
		MimeType:       mimeType,
		Pages:          pages,
		Encrypted:      stored.Encrypted,
		Status:         "uploaded",
	}
	if userID != "" {
		record.UserID = &userID
	}

	id := stored.Name
	if err := h.files.Create(ctx, record); err != nil {
		// 記録に失敗しても保存済みファイルは返す（保存名を仮IDとして使う）
		h.log.Error("pdf_file record failed, using stored name as id",
			"code", apperr.CodeStorageFailure, "stored_name", stored.Name, "err", err)
	} else {
		id = record.ID
	}

	return &UploadedFile{
		ID:        id,
		FileName:  fh.Filename,
		FilePath:  h.store.PublicPath(stored.Path),
		Size:      stored.Size,
		Pages:     pages,
		MimeType:  mimeType,
		Encrypted: stored.Encrypted,
	}, stored.Path, nil
}

// pageCount は保存済み（暗号化されている場合は復号した）ファイルのページ数を返します。
func (h *Handler) pageCount(ctx context.Context, path string) (int, error) {
	plain, cleanup, err := h.store.PlainPath(path)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return pdf.PageCount(ctx, plain)
}
