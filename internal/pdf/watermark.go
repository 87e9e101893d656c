package pdf

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// watermark は全ページの前面に文字の透かしを入れます。
func (a *Adapter) watermark(ctx context.Context, in Input, opts *WatermarkOptions, outPath string) (*WatermarkMeta, error) {
	desc := textStampDescription(opts.FontSize, opts.Position, opts.Opacity, opts.Color, 0, 0)
	if err := runLibrary(ctx, func() error {
		return api.AddTextWatermarksFile(in.Path, outPath, nil, true, opts.Text, desc, pdfcpuConfig())
	}, outPath); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, adapterFailure("透かしの追加に失敗しました。", err)
	}
	return &WatermarkMeta{
		Text:     opts.Text,
		Position: opts.Position,
		Opacity:  opts.Opacity,
		FontSize: opts.FontSize,
		Color:    opts.Color,
	}, nil
}

// textStampDescription は pdfcpu のスタンプ記述子を組み立てます。
func textStampDescription(fontSize int, position string, opacity float64, color string, dx, dy int) string {
	anchor, ok := positionAnchors[position]
	if !ok {
		anchor = "c"
	}
	return fmt.Sprintf(
		"fontname:Helvetica, points:%d, position:%s, offset:%d %d, opacity:%s, fillcolor:%s, rotation:0, scalefactor:1 abs",
		fontSize, anchor, dx, dy, strconv.FormatFloat(opacity, 'f', -1, 64), color,
	)
}
