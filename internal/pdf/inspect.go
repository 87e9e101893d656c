package pdf

import (
	"context"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCount はPDFのページ数を返します。読み込めないPDFは ADAPTER_FAILURE です。
func PageCount(ctx context.Context, path string) (int, error) {
	var pages int
	err := runLibrary(ctx, func() error {
		n, err := api.PageCountFile(path)
		pages = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return 0, adapterFailure("PDFの読み込みに失敗しました。", err)
	}
	return pages, nil
}

func inspectInputs(ctx context.Context, inputs []Input) ([]SourceFileMeta, int, error) {
	sources := make([]SourceFileMeta, len(inputs))
	total := 0
	for i, in := range inputs {
		pages, err := PageCount(ctx, in.Path)
		if err != nil {
			return nil, 0, err
		}
		sources[i] = SourceFileMeta{ID: in.ID, Name: in.Name, Size: in.Size, Pages: pages}
		total += pages
	}
	return sources, total, nil
}
