// Package ocr はPDFからページ画像を取り出し、OCRエンジンへ渡すための共通処理を提供します。
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoPageImages はOCR対象の画像が1枚も得られなかったことを表します。
var ErrNoPageImages = errors.New("no page images found for ocr")

// Result はOCRの結果です。Confidence は 0〜100 の単語平均です。
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
	Language   string  `json:"language"`
}

// Engine はPDFの文字認識を行います。
type Engine interface {
	Recognize(ctx context.Context, pdfPath, language string) (*Result, error)
}

// Rasterizer はPDFのページ画像を dir に書き出し、ページ順のパスを返します。
type Rasterizer struct {
	Pdftoppm string // 空の場合は pdfcpu で埋め込み画像を抽出
	DPI      int
	Runner   Runner
	Logger   *slog.Logger
}

// PageImages はページ画像を作成します。
func (r *Rasterizer) PageImages(ctx context.Context, pdfPath, dir string) ([]string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Pdftoppm != "" {
		dpi := r.DPI
		if dpi <= 0 {
			dpi = 300
		}
		runner := r.Runner
		if runner == nil {
			runner = ExecRunner{}
		}
		prefix := filepath.Join(dir, "page")
		if _, stderr, err := runner.Run(ctx, r.Pdftoppm, "-r", strconv.Itoa(dpi), "-png", pdfPath, prefix); err != nil {
			logger.Error("pdftoppm failed", "path", pdfPath, "stderr", string(stderr), "error", err)
			return nil, fmt.Errorf("pdftoppm: %w", err)
		}
	} else {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.ExtractImagesFile(pdfPath, dir, nil, conf); err != nil {
			return nil, fmt.Errorf("extract images: %w", err)
		}
	}

	images, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNoPageImages
	}
	logger.Debug("page images prepared", "path", pdfPath, "count", len(images))
	return images, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(out, func(i, j int) bool { return naturalLess(filepath.Base(out[i]), filepath.Base(out[j])) })
	return out, nil
}

// naturalLess は "page-2" < "page-10" となるように数字部分を数値で比較します。
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ad, an := leadingNumber(a)
		bd, bn := leadingNumber(b)
		if ad != "" && bd != "" {
			if an != bn {
				return an < bn
			}
			a, b = a[len(ad):], b[len(bd):]
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingNumber(s string) (string, int) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", 0
	}
	n, _ := strconv.Atoi(s[:i])
	return s[:i], n
}

// MeanConfidence は単語ごとの信頼度の平均を返します。
func MeanConfidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
