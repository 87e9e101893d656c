package pdf

import (
	"context"
	"errors"
	"os"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/ocr"
)

// recognize は OCR エンジンで全ページのテキストを抽出し、テキストファイルに保存します。
func (a *Adapter) recognize(ctx context.Context, in Input, opts *OCROptions, outPath string, progress ProgressReporter) (*OCRMeta, error) {
	if a.ocr == nil {
		return nil, adapterFailure("OCRエンジンが利用できません。", errors.New("ocr engine not configured"))
	}
	lang := opts.Language
	if lang == "" {
		lang = a.cfg.OCRLanguage
	}

	reportProgress(progress, "ocr", 30)
	res, err := a.ocr.Recognize(ctx, in.Path, lang)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ocr.ErrNoPageImages) {
			return nil, adapterFailure("OCR対象のページ画像を取得できませんでした。", err)
		}
		return nil, adapterFailure("OCR処理に失敗しました。", err)
	}
	reportProgress(progress, "ocr", 80)

	if err := os.WriteFile(outPath, []byte(res.Text), 0o640); err != nil {
		return nil, newError(apperr.CodeStorageFailure, "OCR結果の保存に失敗しました。", err)
	}
	return &OCRMeta{
		Text:       res.Text,
		Confidence: res.Confidence,
		Pages:      res.Pages,
		Language:   res.Language,
	}, nil
}
