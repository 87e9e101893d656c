package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

type fakeRunner struct {
	calls [][]string
	pages int
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, []byte("boom"), f.err
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		img := imaging.New(10, 10, color.White)
		if err := imaging.Save(img, prefix+"-"+itoa(i)+".png"); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func itoa(i int) string {
	if i >= 10 {
		return itoa(i/10) + string(rune('0'+i%10))
	}
	return string(rune('0' + i))
}

func TestRasterizerUsesPdftoppmInPageOrder(t *testing.T) {
	runner := &fakeRunner{pages: 11}
	r := &Rasterizer{Pdftoppm: "pdftoppm", DPI: 150, Runner: runner}

	images, err := r.PageImages(context.Background(), "in.pdf", t.TempDir())
	if err != nil {
		t.Fatalf("PageImages returned error: %v", err)
	}
	if len(images) != 11 {
		t.Fatalf("len(images) = %d, want 11", len(images))
	}
	if filepath.Base(images[1]) != "page-2.png" || filepath.Base(images[10]) != "page-11.png" {
		t.Fatalf("unexpected order: %v", images)
	}
	call := runner.calls[0]
	if call[0] != "pdftoppm" || call[1] != "-r" || call[2] != "150" {
		t.Fatalf("unexpected command: %v", call)
	}
}

func TestRasterizerNoImages(t *testing.T) {
	r := &Rasterizer{Pdftoppm: "pdftoppm", Runner: &fakeRunner{}}
	_, err := r.PageImages(context.Background(), "in.pdf", t.TempDir())
	if !errors.Is(err, ErrNoPageImages) {
		t.Fatalf("err = %v, want ErrNoPageImages", err)
	}
}

func TestRasterizerRunnerFailure(t *testing.T) {
	r := &Rasterizer{Pdftoppm: "pdftoppm", Runner: &fakeRunner{err: errors.New("exit 1")}}
	if _, err := r.PageImages(context.Background(), "in.pdf", t.TempDir()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPreprocessUpscalesSmallImages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	img := image.NewNRGBA(image.Rect(0, 0, 300, 100))
	if err := imaging.Save(img, src); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	dst := filepath.Join(dir, "dst.png")
	if err := Preprocess(src, dst); err != nil {
		t.Fatalf("Preprocess returned error: %v", err)
	}
	out, err := imaging.Open(dst)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	if out.Bounds().Dx() != minOCRWidth || out.Bounds().Dy() != 400 {
		t.Fatalf("unexpected size: %v", out.Bounds())
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := MeanConfidence(nil); got != 0 {
		t.Fatalf("empty mean = %v", got)
	}
	if got := MeanConfidence([]float64{90, 80, 100}); got != 90 {
		t.Fatalf("mean = %v, want 90", got)
	}
}

func TestNaturalLess(t *testing.T) {
	if !naturalLess("page-2.png", "page-10.png") {
		t.Fatal("page-2 should sort before page-10")
	}
	if naturalLess("page-10.png", "page-9.png") {
		t.Fatal("page-10 should sort after page-9")
	}
	if !naturalLess("a.png", "b.png") {
		t.Fatal("lexical fallback broken")
	}
}
