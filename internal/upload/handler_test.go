package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/repository"
	"github.com/yourusername/easypdf/internal/storage"
	"github.com/yourusername/easypdf/internal/testutil"
)

type part struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(p.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

type fixture struct {
	store *storage.FileStore
	files repository.FileRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	store, err := storage.NewFileStore(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"), logger)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c, err := storage.NewCipher("upload-test-secret")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	store.UseCipher(c)
	db, err := repository.Open(repository.Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(root, "test.db"),
		AutoMigrate: true,
		LogLevel:    gormlogger.Silent,
	}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fixture{store: store, files: repository.NewFileRepository(db, logger)}
}

func serve(h *Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/upload", h.Upload)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUploadStoresFilesAndRecords(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.store, fx.files, Config{MaxFileSize: 1 << 20}, nil)

	body, ct := multipartBody(t,
		part{"files[]", "first.pdf", testutil.PDFBytes(3)},
		part{"files", "second.pdf", testutil.PDFBytes(5)},
	)
	rec := serve(h, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Files []UploadedFile `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Files) != 2 {
		t.Fatalf("unexpected files: %#v", payload.Files)
	}
	byName := map[string]UploadedFile{}
	for _, f := range payload.Files {
		byName[f.FileName] = f
	}
	if byName["first.pdf"].Pages != 3 || byName["second.pdf"].Pages != 5 {
		t.Fatalf("unexpected page counts: %#v", payload.Files)
	}
	first := byName["first.pdf"]
	if !strings.HasPrefix(first.FilePath, "/uploads/") || !strings.HasSuffix(first.FilePath, "_first.pdf") {
		t.Fatalf("unexpected file path: %s", first.FilePath)
	}

	record, err := fx.files.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if record.MimeType != "application/pdf" || record.Pages != 3 {
		t.Fatalf("unexpected record: %#v", record)
	}
	raw, err := os.ReadFile(record.FilePath)
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if bytes.HasPrefix(raw, []byte("%PDF")) || !record.Encrypted || !first.Encrypted {
		t.Fatalf("expected encrypted upload at rest, record=%#v", record)
	}
	plain, err := fx.store.ReadPlain(record.FilePath)
	if err != nil || !bytes.HasPrefix(plain, []byte("%PDF")) {
		t.Fatalf("ReadPlain: %v", err)
	}
}

func TestUploadAddsPDFExtension(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.store, fx.files, Config{MaxFileSize: 1 << 20}, nil)

	body, ct := multipartBody(t, part{"files", "scan", testutil.PDFBytes(1)})
	rec := serve(h, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Files []UploadedFile `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	got := payload.Files[0]
	if got.FileName != "scan" || !strings.HasSuffix(got.FilePath, "_scan.pdf") {
		t.Fatalf("expected .pdf stored name, got %#v", got)
	}
	if ct := storage.ContentTypeFor(got.FilePath); ct != "application/pdf" {
		t.Fatalf("unexpected content type for stored upload: %s", ct)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.store, fx.files, Config{MaxFileSize: 1 << 20}, nil)

	body, ct := multipartBody(t,
		part{"files", "ok.pdf", testutil.PDFBytes(1)},
		part{"files", "evil.pdf", testutil.PNGBytes()},
	)
	rec := serve(h, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	entries, _ := os.ReadDir(fx.store.UploadDir())
	if len(entries) != 0 {
		t.Fatalf("expected nothing stored, found %d files", len(entries))
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.store, fx.files, Config{MaxFileSize: 64}, nil)

	body, ct := multipartBody(t, part{"files", "big.pdf", testutil.PDFBytes(4)})
	rec := serve(h, body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.store, fx.files, Config{MaxFileSize: 1 << 20}, nil)

	body, ct := multipartBody(t)
	if rec := serve(h, body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := serve(h, strings.NewReader("{}"), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for json body: %d", rec.Code)
	}
}

type failingFiles struct{ repository.FileRepository }

func (failingFiles) Create(context.Context, *models.PDFFile) error {
	return errors.New("database is down")
}

func TestUploadFallsBackToStoredNameWhenRecordFails(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.store, failingFiles{fx.files}, Config{MaxFileSize: 1 << 20}, nil)

	body, ct := multipartBody(t, part{"files", "doc.pdf", testutil.PDFBytes(1)})
	rec := serve(h, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Files []UploadedFile `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	got := payload.Files[0]
	if !strings.HasSuffix(got.ID, "_doc.pdf") || !strings.HasSuffix(got.FilePath, got.ID) {
		t.Fatalf("expected stored name as id, got %#v", got)
	}
}
