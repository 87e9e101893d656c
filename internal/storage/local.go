// Package storage はアップロード/生成ファイルを保存するローカルファイルストアを提供します。
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/easypdf/internal/apperr"
)

const maxStoredNameLength = 100

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileStore は uploads/outputs の2つのルートディレクトリを管理します。
type FileStore struct {
	uploadDir string
	outputDir string

	// シンボリックリンク解決後のルート（許可判定に使用）
	uploadReal string
	outputReal string

	cipher *Cipher

	log *slog.Logger
	now func() time.Time
}

// StoredFile は保存済みファイルの情報です。
type StoredFile struct {
	Name      string
	Path      string
	Size      int64 // 平文のサイズ
	Encrypted bool
}

// NewFileStore はルートディレクトリを絶対パス化して作成します。
func NewFileStore(uploadDir, outputDir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs := &FileStore{log: logger, now: time.Now}

	var err error
	if fs.uploadDir, fs.uploadReal, err = prepareRoot(uploadDir); err != nil {
		return nil, err
	}
	if fs.outputDir, fs.outputReal, err = prepareRoot(outputDir); err != nil {
		return nil, err
	}
	if fs.uploadDir == fs.outputDir {
		return nil, errors.New("upload and output directories must differ")
	}
	return fs, nil
}

func prepareRoot(dir string) (string, string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", "", errors.New("storage root is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve storage root %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create storage root %s: %w", abs, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve storage root %s: %w", abs, err)
	}
	return abs, real, nil
}

// UploadDir はアップロード用ルートの絶対パスです。
func (s *FileStore) UploadDir() string { return s.uploadDir }

// OutputDir は生成ファイル用ルートの絶対パスです。
func (s *FileStore) OutputDir() string { return s.outputDir }

// SaveUpload はアップロード内容を "<uuid>_<安全なファイル名>" で保存します。
// ext を指定した場合は拡張子をそれに揃えます。暗号化が有効なら AES-256-GCM で暗号化して書き込みます。
// maxBytes を超える場合は LIMIT_EXCEEDED を返し、ファイルは作りません。
func (s *FileStore) SaveUpload(originalName, ext string, r io.Reader, maxBytes int64) (*StoredFile, error) {
	name := uuid.NewString() + "_" + withExtension(SanitizeFilename(originalName), ext)
	path := filepath.Join(s.uploadDir, name)

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, apperr.New(apperr.CodeStorageFailure, "ファイルの保存に失敗しました。", err)
	}
	size := int64(len(data))
	if maxBytes > 0 && size > maxBytes {
		return nil, apperr.New(apperr.CodeLimitExceeded, fmt.Sprintf("ファイルサイズが上限(%dMB)を超えています。", maxBytes/1024/1024), nil)
	}
	if s.cipher != nil {
		if data, err = s.cipher.seal(name, data); err != nil {
			return nil, apperr.New(apperr.CodeStorageFailure, "ファイルの暗号化に失敗しました。", err)
		}
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return nil, apperr.New(apperr.CodeStorageFailure, "ファイルの保存に失敗しました。", err)
	}
	_, writeErr := out.Write(data)
	if closeErr := out.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return nil, apperr.New(apperr.CodeStorageFailure, "ファイルの保存に失敗しました。", writeErr)
	}

	return &StoredFile{Name: name, Path: path, Size: size, Encrypted: s.cipher != nil}, nil
}

// withExtension は name が ext で終わっていなければ ext を付け足します。
func withExtension(name, ext string) string {
	if ext == "" {
		return name
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.EqualFold(filepath.Ext(name), ext) {
		return name
	}
	if len(name)+len(ext) > maxStoredNameLength {
		name = name[:maxStoredNameLength-len(ext)]
	}
	return name + ext
}

// OutputPath は "{operation}_{uuid}.{ext}" 形式の出力パスを返します。
func (s *FileStore) OutputPath(operation, ext string) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", apperr.New(apperr.CodeStorageFailure, "出力ディレクトリの作成に失敗しました。", err)
	}
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s_%s.%s", SanitizeFilename(operation), uuid.NewString(), ext)
	return filepath.Join(s.outputDir, name), nil
}

// SanitizeFilename はパス要素や危険な文字を取り除いたファイル名を返します。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		name = "file"
	}
	if len(name) > maxStoredNameLength {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:maxStoredNameLength-len(ext)] + ext
	}
	return name
}
