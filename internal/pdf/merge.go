package pdf

import (
	"context"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// merge は入力順にPDFを結合します。
func (a *Adapter) merge(ctx context.Context, inputs []Input, outPath string, progress ProgressReporter) (*MergeMeta, error) {
	if len(inputs) < 2 {
		return nil, invalidInput("結合には2つ以上のPDFファイルが必要です。")
	}

	sources, _, err := inspectInputs(ctx, inputs)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "process", 30)

	paths := make([]string, len(inputs))
	for i, in := range inputs {
		paths[i] = in.Path
	}
	if err := runLibrary(ctx, func() error {
		return api.MergeCreateFile(paths, outPath, false, pdfcpuConfig())
	}, outPath); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, adapterFailure("PDFの結合に失敗しました。", err)
	}
	reportProgress(progress, "process", 80)

	total, err := PageCount(ctx, outPath)
	if err != nil {
		return nil, err
	}
	return &MergeMeta{TotalPages: total, Sources: sources}, nil
}
