// Package pdf は pdfcpu を使ったPDF操作アダプターです。
package pdf

import (
	"github.com/yourusername/easypdf/internal/apperr"
)

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationMerge     OperationType = "merge"
	OperationSplit     OperationType = "split"
	OperationCompress  OperationType = "compress"
	OperationRotate    OperationType = "rotate"
	OperationWatermark OperationType = "watermark"
	OperationUnlock    OperationType = "unlock"
	OperationESign     OperationType = "esign"
	OperationOCR       OperationType = "ocr"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
	ResultKindTXT ResultKind = "txt"
)

// Result はPDF処理の成果を表します。
type Result struct {
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	Kind           ResultKind    `json:"kind"`
	Meta           any           `json:"meta,omitempty"`
}

// SourceFileMeta は入力ファイルの情報です。
type SourceFileMeta struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Ranges   []PageRange    `json:"ranges"`
	Parts    []SplitPart    `json:"parts"`
}

// PageRange は分割対象のページ範囲を表します（Start/Endは1-based, End>=Start）。
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	FromPage int    `json:"fromPage"`
	ToPage   int    `json:"toPage"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
}

// CompressMeta は圧縮処理のメタデータです。
type CompressMeta struct {
	OriginalSize int64   `json:"originalSize"`
	OutputSize   int64   `json:"outputSize"`
	SavedBytes   int64   `json:"savedBytes"`
	SavedPercent float64 `json:"savedPercent"`
	Quality      string  `json:"quality"`
	Engine       string  `json:"engine"`
}

type RotateMeta struct {
	Rotation int   `json:"rotation"`
	Pages    []int `json:"pages,omitempty"`
}

type WatermarkMeta struct {
	Text     string  `json:"text"`
	Position string  `json:"position"`
	Opacity  float64 `json:"opacity"`
	FontSize int     `json:"fontSize"`
	Color    string  `json:"color"`
}

type UnlockMeta struct {
	WasEncrypted bool `json:"wasEncrypted"`
}

// SignatureInfo は電子署名の付与情報です。
type SignatureInfo struct {
	SignerName string `json:"signerName"`
	SignedAt   string `json:"signedAt"`
	Position   string `json:"position"`
	Page       int    `json:"page"`
	Kind       string `json:"kind"` // image | text
}

type OCRMeta struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
	Language   string  `json:"language"`
}

func newError(code, message string, err error) *apperr.Error {
	return apperr.New(code, message, err)
}

func invalidInput(message string) *apperr.Error {
	return apperr.New(apperr.CodeInvalidInput, message, nil)
}

func adapterFailure(message string, err error) *apperr.Error {
	return apperr.New(apperr.CodeAdapterFailure, message, err)
}
