package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
)

// Mirror は生成ファイルを外部ストレージへ複製します。
type Mirror interface {
	Mirror(ctx context.Context, localPath string) error
}

// GCSMirror は生成ファイルを GCS バケットへ複製します。
type GCSMirror struct {
	client *gcs.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// NewGCSMirror は GCS クライアントを作成します。認証はアプリケーションデフォルト認証情報を使います。
func NewGCSMirror(ctx context.Context, bucket, prefix string, logger *slog.Logger) (*GCSMirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket, prefix: prefix, log: logger}, nil
}

// Mirror はローカルファイルを "<prefix>/<ファイル名>" として書き込みます。
func (m *GCSMirror) Mirror(ctx context.Context, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	object := path.Join(m.prefix, filepath.Base(localPath))
	w := m.client.Bucket(m.bucket).Object(object).NewWriter(ctx)
	w.ContentType = ContentTypeFor(localPath)

	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		m.log.Error("failed to copy content to GCS", "object", object, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		m.log.Error("failed to finalize GCS write", "object", object, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	m.log.Debug("output mirrored", "bucket", m.bucket, "object", object)
	return nil
}

// Close はクライアントを閉じます。
func (m *GCSMirror) Close() error {
	return m.client.Close()
}
