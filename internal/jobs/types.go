// Package jobs はPDF処理ジョブの作成・実行・状態照会を担います。
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/pdf"
)

// batchPrefix はバッチジョブの operation 接頭辞です（例: batch_compress）。
const batchPrefix = "batch_"

// Request はジョブ作成の要求です。
type Request struct {
	Operation pdf.OperationType
	Batch     bool
	FileIDs   []string
	Options   json.RawMessage
	UserID    string
	IPAddress string
	UserAgent string
}

// Task はキューに渡す実行単位です。
type Task struct {
	JobID     string `json:"jobId"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Processor はPDF操作を実行します（pdf.Adapter が実装）。
type Processor interface {
	Apply(ctx context.Context, opts pdf.Options, inputs []pdf.Input, progress pdf.ProgressReporter) (*pdf.Result, error)
}

// Entitlements はプレミアム機能の利用可否を判定します。
type Entitlements interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

// LinkBuilder は公開パスからダウンロードURLを作ります。
type LinkBuilder interface {
	DownloadURL(publicPath, userID string) (string, error)
}

// PathMapper は絶対パスをAPIで返す公開パスに変換します。
type PathMapper interface {
	PublicPath(abs string) string
}

// SourceReader は保存済みアップロードを平文で読めるパスにします（storage.FileStore が実装）。
type SourceReader interface {
	PlainPath(path string) (string, func(), error)
}

// Mirror は生成物を外部ストレージに複製します。
type Mirror interface {
	Mirror(ctx context.Context, localPath string) error
}

// Outcome はジョブ実行の結果です。ジョブ作成後に失敗した場合も Job は設定されます。
type Outcome struct {
	Job         *models.ProcessingJob
	Result      *pdf.Result
	FilePath    string
	DownloadURL string
	Batch       *BatchOutcome
}

// FileResult はバッチ内の1ファイルの結果です。
type FileResult struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName,omitempty"`
	Success     bool   `json:"success"`
	FilePath    string `json:"filePath,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Meta        any    `json:"meta,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchSummary はバッチ全体の集計です。
type BatchSummary struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

type BatchOutcome struct {
	Results []FileResult `json:"results"`
	Summary BatchSummary `json:"summary"`
}

// Event は進捗通知の1件です。
type Event struct {
	JobID    string           `json:"jobId"`
	Status   models.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Stage    string           `json:"stage,omitempty"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// historyResult は履歴に保存する結果のJSON形式です。
type historyResult struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Kind     string `json:"kind"`
	Meta     any    `json:"meta,omitempty"`
}

// premiumOperations はプレミアム契約が必要な操作です。バッチは常にプレミアムです。
var premiumOperations = map[pdf.OperationType]bool{
	pdf.OperationOCR:   true,
	pdf.OperationESign: true,
}

// batchOperations はバッチで実行できる操作です。
var batchOperations = map[pdf.OperationType]bool{
	pdf.OperationCompress:  true,
	pdf.OperationRotate:    true,
	pdf.OperationWatermark: true,
	pdf.OperationUnlock:    true,
}
