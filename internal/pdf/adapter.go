package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/ocr"
)

// OutputAllocator は出力ファイルのパスを払い出します。
type OutputAllocator interface {
	OutputPath(operation, ext string) (string, error)
}

// Input はアダプターに渡す入力ファイルです。
type Input struct {
	ID   string
	Name string
	Path string
	Size int64
}

// Config はアダプターの外部ツール設定です。
type Config struct {
	GhostscriptPath string
	OCRLanguage     string
}

// Adapter は操作ごとに pdfcpu（または外部ツール）を呼び出します。
type Adapter struct {
	outputs OutputAllocator
	ocr     ocr.Engine
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// NewAdapter は Adapter を作成します。ocrEngine が nil の場合 OCR は失敗します。
func NewAdapter(outputs OutputAllocator, ocrEngine ocr.Engine, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OCRLanguage == "" {
		cfg.OCRLanguage = "eng"
	}
	return &Adapter{outputs: outputs, ocr: ocrEngine, cfg: cfg, log: logger, now: time.Now}
}

// Apply は opts の操作を inputs に適用し、出力ファイルの情報を返します。
//
// 入力不備は INVALID_INPUT、ライブラリの失敗は ADAPTER_FAILURE として返します。
// 失敗時に書きかけの出力ファイルは削除します。
func (a *Adapter) Apply(ctx context.Context, opts Options, inputs []Input, progress ProgressReporter) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		return nil, invalidInput("options が指定されていません。")
	}
	op := opts.Operation()
	output, ok := operationOutput[op]
	if !ok {
		return nil, invalidInput(fmt.Sprintf("未対応の操作です: %s", op))
	}
	if len(inputs) == 0 {
		return nil, invalidInput("PDFファイルを選択してください。")
	}
	if op != OperationMerge && len(inputs) != 1 {
		return nil, invalidInput("この操作は1つのPDFファイルのみ指定できます。")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outPath, err := a.outputs.OutputPath(string(op), output.ext)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()

	reportProgress(progress, "load", 10)

	var meta any
	switch o := opts.(type) {
	case *MergeOptions:
		meta, err = a.merge(ctx, inputs, outPath, progress)
	case *SplitOptions:
		meta, err = a.split(ctx, inputs[0], o, outPath, progress)
	case *CompressOptions:
		meta, err = a.compress(ctx, inputs[0], o, outPath, progress)
	case *RotateOptions:
		meta, err = a.rotate(ctx, inputs[0], o, outPath)
	case *WatermarkOptions:
		meta, err = a.watermark(ctx, inputs[0], o, outPath)
	case *UnlockOptions:
		meta, err = a.unlock(ctx, inputs[0], o, outPath)
	case *ESignOptions:
		meta, err = a.esign(ctx, inputs[0], o, outPath)
	case *OCROptions:
		meta, err = a.recognize(ctx, inputs[0], o, outPath, progress)
	default:
		return nil, invalidInput(fmt.Sprintf("未対応の操作です: %s", op))
	}
	if err != nil {
		a.log.Warn("pdf operation failed", "operation", op, "error", err)
		return nil, err
	}

	reportProgress(progress, "write", 90)

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, adapterFailure("出力ファイルの確認に失敗しました。", err)
	}

	return &Result{
		Operation:      op,
		OutputPath:     outPath,
		OutputFilename: filepath.Base(outPath),
		OutputSize:     info.Size(),
		Kind:           output.kind,
		Meta:           meta,
	}, nil
}

// ErrorDetail はジョブに記録するためのエラー詳細（ライブラリのメッセージ）を返します。
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
		return appErr.Message
	}
	return err.Error()
}

// pdfcpuConfig は壊れ気味のPDFも受け付ける設定を返します。
func pdfcpuConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// runLibrary は ctx を尊重しない pdfcpu 呼び出しを別ゴルーチンで実行します。
// ctx が先に終了した場合は ctx のエラーをすぐに返し、呼び出しが後から終わった時点で
// outputs に書かれたファイルを削除します。
func runLibrary(ctx context.Context, fn func() error, outputs ...string) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("pdf library panic: %v", r)
			}
		}()
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		go discardLate(done, outputs)
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// discardLate は打ち切った呼び出しの終了を待ち、遅れて書かれた出力を消します。
func discardLate(done <-chan error, outputs []string) {
	<-done
	for _, p := range outputs {
		_ = os.Remove(p)
	}
}
