// Package tesseract は gosseract を使った ocr.Engine の実装です。
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/yourusername/easypdf/internal/ocr"
)

// Engine は各ページ画像を前処理してから Tesseract に渡します。
type Engine struct {
	raster *ocr.Rasterizer
	log    *slog.Logger
}

// New は Engine を作成します。
func New(raster *ocr.Rasterizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if raster == nil {
		raster = &ocr.Rasterizer{Logger: logger}
	}
	return &Engine{raster: raster, log: logger}
}

// Recognize はPDFの全ページを認識し、ページ区切りで連結したテキストを返します。
func (e *Engine) Recognize(ctx context.Context, pdfPath, language string) (*ocr.Result, error) {
	if language == "" {
		language = "eng"
	}
	dir, err := os.MkdirTemp("", "easypdf-ocr-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	images, err := e.raster.PageImages(ctx, pdfPath, dir)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}

	var (
		texts       []string
		confidences []float64
	)
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prepared := filepath.Join(dir, fmt.Sprintf("prep-%03d.png", i+1))
		if err := ocr.Preprocess(img, prepared); err != nil {
			e.log.Warn("preprocess failed, using original image", "image", img, "error", err)
			prepared = img
		}
		if err := client.SetImage(prepared); err != nil {
			return nil, fmt.Errorf("set image: %w", err)
		}
		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("tesseract page %d: %w", i+1, err)
		}
		texts = append(texts, strings.TrimSpace(text))

		boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			e.log.Warn("bounding boxes unavailable", "page", i+1, "error", err)
			continue
		}
		for _, b := range boxes {
			confidences = append(confidences, b.Confidence)
		}
	}

	result := &ocr.Result{
		Text:       strings.Join(texts, "\n\n"),
		Confidence: ocr.MeanConfidence(confidences),
		Pages:      len(images),
		Language:   language,
	}
	e.log.Info("ocr completed", "path", pdfPath, "pages", result.Pages, "confidence", result.Confidence)
	return result, nil
}
