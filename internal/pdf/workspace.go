package pdf

import (
	"os"
	"path/filepath"

	"github.com/yourusername/easypdf/internal/apperr"
)

// workspace は1回の処理で使う一時ディレクトリです。
type workspace struct {
	dir string
}

func newWorkspace() (workspace, error) {
	dir, err := os.MkdirTemp("", "easypdf-work-*")
	if err != nil {
		return workspace{}, newError(apperr.CodeStorageFailure, "作業ディレクトリの作成に失敗しました。", err)
	}
	return workspace{dir: dir}, nil
}

func (w workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}
