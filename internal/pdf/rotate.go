package pdf

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func (a *Adapter) rotate(ctx context.Context, in Input, opts *RotateOptions, outPath string) (*RotateMeta, error) {
	var selection []string
	if len(opts.Pages) > 0 {
		pages, err := PageCount(ctx, in.Path)
		if err != nil {
			return nil, err
		}
		for _, p := range opts.Pages {
			if p > pages {
				return nil, invalidInput(fmt.Sprintf("ページ %d は存在しません（全%dページ）。", p, pages))
			}
			selection = append(selection, strconv.Itoa(p))
		}
	}

	if err := runLibrary(ctx, func() error {
		return api.RotateFile(in.Path, outPath, opts.Rotation, selection, pdfcpuConfig())
	}, outPath); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, adapterFailure("ページの回転に失敗しました。", err)
	}
	return &RotateMeta{Rotation: opts.Rotation, Pages: opts.Pages}, nil
}
