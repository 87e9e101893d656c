package ocr

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const minOCRWidth = 1200

// Preprocess はOCR精度を上げるためにグレースケール化・コントラスト調整・シャープ化を行い、
// 小さい画像は拡大して PNG で保存します。
func Preprocess(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	out := Enhance(img)
	if err := imaging.Save(out, dst); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

// Enhance は画像補正のみを行います。
func Enhance(img image.Image) *image.NRGBA {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	out = imaging.Sharpen(out, 1.0)
	if w := out.Bounds().Dx(); w > 0 && w < minOCRWidth {
		out = imaging.Resize(out, minOCRWidth, 0, imaging.Lanczos)
	}
	return out
}
