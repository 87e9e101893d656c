package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Sweep は maxAge より古いファイルを uploads/outputs から削除し、削除件数を返します。
// データベース上の PDFFile レコードは削除しません。
func (s *FileStore) Sweep(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, root := range []string{s.uploadDir, s.outputDir} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
				} else if !os.IsNotExist(err) {
					s.log.Warn("failed to remove expired file", "path", path, "error", err)
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RunSweeper は ctx が終了するまで interval ごとに Sweep を実行します。
func (s *FileStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(maxAge)
			if err != nil {
				s.log.Error("file sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("expired files removed", "count", n)
			}
		}
	}
}
