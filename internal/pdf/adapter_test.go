package pdf

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/ocr"
	"github.com/yourusername/easypdf/internal/testutil"
)

type dirAllocator struct {
	dir string
	n   int
}

func (d *dirAllocator) OutputPath(operation, ext string) (string, error) {
	d.n++
	return filepath.Join(d.dir, operation+"_"+string(rune('a'+d.n))+"."+ext), nil
}

type stubEngine struct {
	result *ocr.Result
	err    error
	lang   string
}

func (s *stubEngine) Recognize(ctx context.Context, pdfPath, language string) (*ocr.Result, error) {
	s.lang = language
	return s.result, s.err
}

func newTestAdapter(t *testing.T, engine ocr.Engine) (*Adapter, string) {
	t.Helper()
	out := t.TempDir()
	a := NewAdapter(&dirAllocator{dir: out}, engine, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a, out
}

func input(t *testing.T, dir, name string, pages int) Input {
	t.Helper()
	path := testutil.WritePDF(t, dir, name, pages)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	return Input{ID: name, Name: name, Path: path, Size: info.Size()}
}

func mustOptions(t *testing.T, op OperationType, raw string) Options {
	t.Helper()
	opts, err := DecodeOptions(op, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeOptions(%s): %v", op, err)
	}
	return opts
}

func pageCount(t *testing.T, path string) int {
	t.Helper()
	n, err := PageCount(context.Background(), path)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	return n
}

func TestMergeCombinesPagesInOrder(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	dir := t.TempDir()
	inputs := []Input{input(t, dir, "a.pdf", 3), input(t, dir, "b.pdf", 5)}

	var stages []int
	res, err := a.Apply(context.Background(), &MergeOptions{}, inputs, func(_ string, p int) {
		stages = append(stages, p)
	})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if res.Kind != ResultKindPDF || !strings.HasPrefix(res.OutputFilename, "merge_") {
		t.Fatalf("unexpected result: %#v", res)
	}
	if got := pageCount(t, res.OutputPath); got != 8 {
		t.Fatalf("merged pages = %d, want 8", got)
	}
	meta := res.Meta.(*MergeMeta)
	if meta.TotalPages != 8 || len(meta.Sources) != 2 || meta.Sources[1].Pages != 5 {
		t.Fatalf("unexpected meta: %#v", meta)
	}
	for i := 1; i < len(stages); i++ {
		if stages[i] < stages[i-1] {
			t.Fatalf("progress went backwards: %v", stages)
		}
	}
}

func TestMergeRequiresTwoInputs(t *testing.T) {
	a, out := newTestAdapter(t, nil)
	dir := t.TempDir()

	_, err := a.Apply(context.Background(), &MergeOptions{}, []Input{input(t, dir, "a.pdf", 1)}, nil)
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Fatalf("expected no output files, found %d", len(entries))
	}
}

func TestCorruptInputIsAdapterFailure(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(bad, []byte("%PDF-1.4\nnot really a pdf"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err := a.Apply(context.Background(), &MergeOptions{}, []Input{input(t, dir, "a.pdf", 1), {Name: "bad.pdf", Path: bad}}, nil)
	if !apperr.Is(err, apperr.CodeAdapterFailure) {
		t.Fatalf("expected ADAPTER_FAILURE, got %v", err)
	}
	if ErrorDetail(err) == "" {
		t.Fatal("expected library detail")
	}
}

func TestSingleInputOperationsRejectMultipleFiles(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	dir := t.TempDir()
	inputs := []Input{input(t, dir, "a.pdf", 1), input(t, dir, "b.pdf", 1)}

	_, err := a.Apply(context.Background(), mustOptions(t, OperationCompress, `{}`), inputs, nil)
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestSplitProducesZipOfParts(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "doc.pdf", 6)

	res, err := a.Apply(context.Background(), mustOptions(t, OperationSplit, `{"ranges":"1-2, 3, 5-"}`), []Input{in}, nil)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if res.Kind != ResultKindZIP || filepath.Ext(res.OutputPath) != ".zip" {
		t.Fatalf("unexpected result: %#v", res)
	}

	zr, err := zip.OpenReader(res.OutputPath)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 3 {
		t.Fatalf("zip entries = %d, want 3", len(zr.File))
	}

	meta := res.Meta.(*SplitMeta)
	want := []int{2, 1, 2}
	for i, part := range meta.Parts {
		if part.Pages != want[i] {
			t.Fatalf("part %d pages = %d, want %d", i, part.Pages, want[i])
		}
	}
}

func TestParsePageRanges(t *testing.T) {
	cases := []struct {
		expr    string
		want    []PageRange
		wantErr bool
	}{
		{expr: "1-3,4", want: []PageRange{{1, 3}, {4, 4}}},
		{expr: "2-", want: []PageRange{{2, 5}}},
		{expr: " 1 , 5 ", want: []PageRange{{1, 1}, {5, 5}}},
		{expr: "3-1", wantErr: true},
		{expr: "1-3,2", wantErr: true},
		{expr: "6", wantErr: true},
		{expr: "0", wantErr: true},
		{expr: "1,,2", wantErr: true},
		{expr: "a-b", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parsePageRanges(tc.expr, 5)
		if tc.wantErr {
			if !apperr.Is(err, apperr.CodeInvalidInput) {
				t.Fatalf("%q: expected INVALID_INPUT, got %v", tc.expr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.expr, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%q: got %#v", tc.expr, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%q: range %d = %#v, want %#v", tc.expr, i, got[i], tc.want[i])
			}
		}
	}
}

func TestCompressReportsSizes(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "doc.pdf", 2)

	res, err := a.Apply(context.Background(), mustOptions(t, OperationCompress, `{"quality":"LOW"}`), []Input{in}, nil)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	meta := res.Meta.(*CompressMeta)
	if meta.Quality != "low" || meta.Engine != "pdfcpu" {
		t.Fatalf("unexpected meta: %#v", meta)
	}
	if meta.OriginalSize != in.Size || meta.OutputSize != res.OutputSize {
		t.Fatalf("unexpected sizes: %#v (result size %d)", meta, res.OutputSize)
	}
}

func TestGhostscriptArgs(t *testing.T) {
	args := ghostscriptArgs("out.pdf", "in.pdf", "low")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-dPDFSETTINGS=/screen") || !strings.HasSuffix(joined, "in.pdf") {
		t.Fatalf("unexpected args: %v", args)
	}
	if computeSavedPercent(200, 150) != 25 {
		t.Fatalf("unexpected percent: %v", computeSavedPercent(200, 150))
	}
	if computeSavedPercent(0, 10) != 0 {
		t.Fatal("zero original size must not divide")
	}
}

func TestRotateValidatesPages(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "doc.pdf", 2)

	res, err := a.Apply(context.Background(), mustOptions(t, OperationRotate, `{"rotation":-90,"pages":[2]}`), []Input{in}, nil)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if meta := res.Meta.(*RotateMeta); meta.Rotation != 270 {
		t.Fatalf("unexpected rotation: %#v", meta)
	}
	if got := pageCount(t, res.OutputPath); got != 2 {
		t.Fatalf("rotated pages = %d, want 2", got)
	}

	_, err = a.Apply(context.Background(), mustOptions(t, OperationRotate, `{"rotation":90,"pages":[3]}`), []Input{in}, nil)
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for missing page, got %v", err)
	}
}

func TestWatermarkAppliesDefaults(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "doc.pdf", 1)

	res, err := a.Apply(context.Background(), mustOptions(t, OperationWatermark, `{"text":"CONFIDENTIAL","position":"nowhere"}`), []Input{in}, nil)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	meta := res.Meta.(*WatermarkMeta)
	if meta.Position != "center" || meta.Opacity != 0.3 || meta.FontSize != 24 || meta.Color != "#000000" {
		t.Fatalf("unexpected defaults: %#v", meta)
	}
	if res.OutputSize <= in.Size {
		t.Fatalf("expected watermark to grow the file (%d <= %d)", res.OutputSize, in.Size)
	}
}

func TestTextStampDescription(t *testing.T) {
	desc := textStampDescription(12, "top-right", 0.5, "#FF0000", -24, -24)
	for _, part := range []string{"points:12", "position:tr", "opacity:0.5", "fillcolor:#FF0000", "offset:-24 -24"} {
		if !strings.Contains(desc, part) {
			t.Fatalf("description %q missing %q", desc, part)
		}
	}
}

func TestUnlock(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	dir := t.TempDir()
	plain := input(t, dir, "plain.pdf", 1)

	res, err := a.Apply(context.Background(), mustOptions(t, OperationUnlock, `{}`), []Input{plain}, nil)
	if err != nil {
		t.Fatalf("unlock of plain pdf returned error: %v", err)
	}
	if res.Meta.(*UnlockMeta).WasEncrypted {
		t.Fatal("plain pdf reported as encrypted")
	}

	locked := filepath.Join(dir, "locked.pdf")
	conf := model.NewAESConfiguration("secret", "secret", 256)
	if err := api.EncryptFile(plain.Path, locked, conf); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	lockedIn := Input{Name: "locked.pdf", Path: locked}

	res, err = a.Apply(context.Background(), mustOptions(t, OperationUnlock, `{"password":"secret"}`), []Input{lockedIn}, nil)
	if err != nil {
		t.Fatalf("unlock returned error: %v", err)
	}
	if !res.Meta.(*UnlockMeta).WasEncrypted {
		t.Fatal("expected WasEncrypted")
	}
	if got := pageCount(t, res.OutputPath); got != 1 {
		t.Fatalf("unlocked pages = %d", got)
	}

	_, err = a.Apply(context.Background(), mustOptions(t, OperationUnlock, `{"password":"wrong"}`), []Input{lockedIn}, nil)
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for wrong password, got %v", err)
	}
}

func TestESign(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "contract.pdf", 2)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testutil.PNGBytes())

	res, err := a.Apply(context.Background(), mustOptions(t, OperationESign, `{"signatureData":"`+dataURL+`","page":2,"signerName":"Sato"}`), []Input{in}, nil)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	info := res.Meta.(*SignatureInfo)
	if info.Kind != "image" || info.Page != 2 || info.Position != "bottom-right" || info.SignerName != "Sato" {
		t.Fatalf("unexpected signature info: %#v", info)
	}
	if info.SignedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected signedAt: %s", info.SignedAt)
	}

	res, err = a.Apply(context.Background(), mustOptions(t, OperationESign, `{"signatureData":"Taro Sato"}`), []Input{in}, nil)
	if err != nil {
		t.Fatalf("typed signature returned error: %v", err)
	}
	if info := res.Meta.(*SignatureInfo); info.Kind != "text" || info.SignerName != "Unknown" {
		t.Fatalf("unexpected typed signature info: %#v", info)
	}

	_, err = a.Apply(context.Background(), mustOptions(t, OperationESign, `{"signatureData":"Sato","page":3}`), []Input{in}, nil)
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for page out of range, got %v", err)
	}
}

func TestDecodeSignatureRejectsNonImageDataURL(t *testing.T) {
	data := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello world"))
	if _, _, err := decodeSignature(data); !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if _, _, err := decodeSignature("data:image/png,raw"); !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for non-base64 data URL, got %v", err)
	}
}

func TestRecognizeWritesText(t *testing.T) {
	engine := &stubEngine{result: &ocr.Result{Text: "hello\n\nworld", Confidence: 91.5, Pages: 2, Language: "eng"}}
	a, _ := newTestAdapter(t, engine)
	in := input(t, t.TempDir(), "scan.pdf", 2)

	res, err := a.Apply(context.Background(), &OCROptions{}, []Input{in}, nil)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if engine.lang != "eng" {
		t.Fatalf("expected default language, got %q", engine.lang)
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "hello\n\nworld" || res.Kind != ResultKindTXT {
		t.Fatalf("unexpected output %q kind %s", data, res.Kind)
	}
}

func TestRecognizeFailures(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "scan.pdf", 1)
	if _, err := a.Apply(context.Background(), &OCROptions{}, []Input{in}, nil); !apperr.Is(err, apperr.CodeAdapterFailure) {
		t.Fatalf("expected ADAPTER_FAILURE without engine, got %v", err)
	}

	a, _ = newTestAdapter(t, &stubEngine{err: ocr.ErrNoPageImages})
	_, err := a.Apply(context.Background(), &OCROptions{}, []Input{in}, nil)
	if !apperr.Is(err, apperr.CodeAdapterFailure) || !errors.Is(err, ocr.ErrNoPageImages) {
		t.Fatalf("expected wrapped ErrNoPageImages, got %v", err)
	}
}

func TestApplyHonorsCanceledContext(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	in := input(t, t.TempDir(), "doc.pdf", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Apply(ctx, &CompressOptions{Quality: "medium"}, []Input{in}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunLibraryRemovesLateOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "late.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proceed := make(chan struct{})
	written := make(chan struct{})

	err := runLibrary(ctx, func() error {
		<-proceed
		defer close(written)
		return os.WriteFile(out, []byte("%PDF"), 0o640)
	}, out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// 打ち切り後にライブラリ呼び出しが出力を書き込む
	close(proceed)
	<-written
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(out); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("late output was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(OperationCompress, nil)
	if err != nil || opts.(*CompressOptions).Quality != "medium" {
		t.Fatalf("unexpected compress defaults: %#v %v", opts, err)
	}
	opts, err = DecodeOptions(OperationRotate, json.RawMessage(`null`))
	if err != nil || opts.(*RotateOptions).Rotation != 90 {
		t.Fatalf("unexpected rotate defaults: %#v %v", opts, err)
	}

	invalid := []struct {
		op  OperationType
		raw string
	}{
		{OperationSplit, `{}`},
		{OperationCompress, `{"quality":"ultra"}`},
		{OperationRotate, `{"rotation":45}`},
		{OperationRotate, `{"rotaton":180}`},
		{OperationCompress, `{"quality":"low"}{}`},
		{OperationWatermark, `{"text":"  "}`},
		{OperationESign, `{}`},
		{OperationOCR, `{"language":"../etc"}`},
		{OperationMerge, `[1,2]`},
		{"shred", `{}`},
	}
	for _, tc := range invalid {
		if _, err := DecodeOptions(tc.op, json.RawMessage(tc.raw)); !apperr.Is(err, apperr.CodeInvalidInput) {
			t.Fatalf("%s %s: expected INVALID_INPUT, got %v", tc.op, tc.raw, err)
		}
	}
}
