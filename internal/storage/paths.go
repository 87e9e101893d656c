package storage

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/easypdf/internal/apperr"
)

const (
	virtualUploads = "/uploads"
	virtualOutputs = "/outputs"

	maxUnescapeRounds = 5
)

// Resolve はリクエストされたパスを許可ルート配下の絶対パスに解決します。
//
// 受け付けるのは "/uploads/..." "/outputs/..." の仮想パスと、ルート配下の絶対パスのみです。
// 判定は入力文字列ではなく、クリーン化した絶対パス（およびシンボリックリンク解決後のパス）の
// プレフィックス比較で行います。ルート外は FORBIDDEN、存在しない場合は NOT_FOUND です。
func (s *FileStore) Resolve(requested string) (string, error) {
	decoded, err := fullyUnescape(strings.TrimSpace(requested))
	if err != nil {
		return "", forbidden(err)
	}
	if decoded == "" {
		return "", apperr.New(apperr.CodeInvalidInput, "ファイルパスを指定してください。", nil)
	}
	if strings.ContainsRune(decoded, 0) {
		return "", forbidden(nil)
	}
	decoded = strings.ReplaceAll(decoded, "\\", "/")

	candidate, ok := s.candidatePath(decoded)
	if !ok {
		return "", forbidden(nil)
	}

	clean := filepath.Clean(candidate)
	realRoot, ok := s.realRootFor(clean)
	if !ok {
		return "", forbidden(nil)
	}

	info, err := os.Lstat(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperr.New(apperr.CodeNotFound, "ファイルが見つかりません。", err)
		}
		return "", apperr.New(apperr.CodeStorageFailure, "ファイルの確認に失敗しました。", err)
	}

	// シンボリックリンク経由でルート外を指していないか再確認する
	real, err := filepath.EvalSymlinks(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperr.New(apperr.CodeNotFound, "ファイルが見つかりません。", err)
		}
		return "", forbidden(err)
	}
	if !within(realRoot, real) {
		return "", forbidden(nil)
	}
	if info.IsDir() || !isRegular(real) {
		return "", apperr.New(apperr.CodeNotFound, "ファイルが見つかりません。", nil)
	}

	return clean, nil
}

// PublicPath は絶対パスを API で返す仮想パスに変換します。ルート外なら空文字です。
func (s *FileStore) PublicPath(abs string) string {
	clean := filepath.Clean(abs)
	switch {
	case within(s.outputDir, clean):
		rel, _ := filepath.Rel(s.outputDir, clean)
		return virtualOutputs + "/" + filepath.ToSlash(rel)
	case within(s.uploadDir, clean):
		rel, _ := filepath.Rel(s.uploadDir, clean)
		return virtualUploads + "/" + filepath.ToSlash(rel)
	default:
		return ""
	}
}

func (s *FileStore) candidatePath(p string) (string, bool) {
	withSlash := p
	if !strings.HasPrefix(withSlash, "/") {
		withSlash = "/" + withSlash
	}
	switch {
	case strings.HasPrefix(withSlash, virtualUploads+"/"):
		return filepath.Join(s.uploadDir, filepath.FromSlash(strings.TrimPrefix(withSlash, virtualUploads))), true
	case strings.HasPrefix(withSlash, virtualOutputs+"/"):
		return filepath.Join(s.outputDir, filepath.FromSlash(strings.TrimPrefix(withSlash, virtualOutputs))), true
	case filepath.IsAbs(p):
		return p, true
	default:
		return "", false
	}
}

func (s *FileStore) realRootFor(clean string) (string, bool) {
	if within(s.uploadDir, clean) {
		return s.uploadReal, true
	}
	if within(s.outputDir, clean) {
		return s.outputReal, true
	}
	return "", false
}

// within は path が root の配下（root 自身は含まない）かどうかを判定します。
func within(root, path string) bool {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

func fullyUnescape(p string) (string, error) {
	for i := 0; i < maxUnescapeRounds; i++ {
		next, err := url.PathUnescape(p)
		if err != nil {
			return "", err
		}
		if next == p {
			return p, nil
		}
		p = next
	}
	if strings.Contains(p, "%") {
		return "", errors.New("path is encoded too many times")
	}
	return p, nil
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func forbidden(err error) error {
	return apperr.New(apperr.CodeForbidden, "アクセスが拒否されました。", err)
}
