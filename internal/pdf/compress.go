package pdf

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// compress は Ghostscript が設定されていればプリセットで再圧縮し、
// 未設定または quality=high の場合は pdfcpu の最適化のみを行います。
func (a *Adapter) compress(ctx context.Context, in Input, opts *CompressOptions, outPath string, progress ProgressReporter) (*CompressMeta, error) {
	reportProgress(progress, "process", 40)

	engine := "pdfcpu"
	if a.cfg.GhostscriptPath != "" && opts.Quality != "high" {
		engine = "ghostscript"
		if err := a.runGhostscript(ctx, in.Path, outPath, opts.Quality); err != nil {
			return nil, err
		}
	} else {
		if err := runLibrary(ctx, func() error {
			return api.OptimizeFile(in.Path, outPath, pdfcpuConfig())
		}, outPath); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, adapterFailure("PDFの圧縮に失敗しました。", err)
		}
	}

	outSize, err := fileSize(outPath)
	if err != nil {
		return nil, adapterFailure("圧縮後ファイルの確認に失敗しました。", err)
	}
	before := in.Size
	if before <= 0 {
		if before, err = fileSize(in.Path); err != nil {
			return nil, adapterFailure("入力ファイルの確認に失敗しました。", err)
		}
	}

	return &CompressMeta{
		OriginalSize: before,
		OutputSize:   outSize,
		SavedBytes:   before - outSize,
		SavedPercent: computeSavedPercent(before, outSize),
		Quality:      opts.Quality,
		Engine:       engine,
	}, nil
}

func (a *Adapter) runGhostscript(ctx context.Context, inputPath, outputPath, quality string) error {
	cmd := exec.CommandContext(ctx, a.cfg.GhostscriptPath, ghostscriptArgs(outputPath, inputPath, quality)...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return adapterFailure("Ghostscriptによる圧縮に失敗しました。", fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return nil
}

func ghostscriptArgs(outputPath, inputPath, quality string) []string {
	setting := "/ebook"
	switch quality {
	case "low":
		setting = "/screen"
	case "high":
		setting = "/printer"
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

// computeSavedPercent は削減率(%)を小数第2位で丸めて返します。
func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return math.Round(float64(before-after)/float64(before)*10000) / 100
}
