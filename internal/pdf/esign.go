package pdf

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/easypdf/internal/apperr"
)

const (
	signatureMargin   = 24
	signatureFontSize = 9
	signatureScale    = "0.25 rel"
	maxSignatureBytes = 2 << 20
)

// esign は署名画像（または入力された署名文字列）と署名者情報を指定ページに押印します。
func (a *Adapter) esign(ctx context.Context, in Input, opts *ESignOptions, outPath string) (*SignatureInfo, error) {
	pages, err := PageCount(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	if opts.Page > pages {
		return nil, invalidInput(fmt.Sprintf("ページ %d は存在しません（全%dページ）。", opts.Page, pages))
	}

	image, ext, err := decodeSignature(opts.SignatureData)
	if err != nil {
		return nil, err
	}

	signedAt := a.now().UTC()
	anchor := positionAnchors[opts.Position]
	dx, dy := anchorOffset(anchor)
	selection := []string{strconv.Itoa(opts.Page)}
	info := &SignatureInfo{
		SignerName: opts.SignerName,
		SignedAt:   signedAt.Format("2006-01-02T15:04:05Z"),
		Position:   opts.Position,
		Page:       opts.Page,
		Kind:       "text",
	}

	stampSource := in.Path
	label := fmt.Sprintf("Digitally signed by %s\nSigned on: %s", opts.SignerName, signedAt.Format("2006-01-02 15:04 UTC"))

	if image != nil {
		ws, err := newWorkspace()
		if err != nil {
			return nil, err
		}
		defer ws.cleanup()

		imgPath := ws.path("signature" + ext)
		if err := os.WriteFile(imgPath, image, 0o600); err != nil {
			return nil, newError(apperr.CodeStorageFailure, "署名画像の保存に失敗しました。", err)
		}
		stamped := ws.path("stamped.pdf")
		desc := fmt.Sprintf("position:%s, offset:%d %d, scalefactor:%s, rotation:0, opacity:1", anchor, dx, imageOffsetY(anchor, dy), signatureScale)
		if err := runLibrary(ctx, func() error {
			return api.AddImageWatermarksFile(in.Path, stamped, selection, true, imgPath, desc, pdfcpuConfig())
		}, stamped); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, adapterFailure("署名画像の追加に失敗しました。", err)
		}
		stampSource = stamped
		info.Kind = "image"
	} else {
		label = opts.SignatureData + "\n" + label
	}

	desc := textStampDescription(signatureFontSize, opts.Position, 1, "#1F2937", dx, dy)
	if err := runLibrary(ctx, func() error {
		return api.AddTextWatermarksFile(stampSource, outPath, selection, true, label, desc, pdfcpuConfig())
	}, outPath); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, adapterFailure("署名情報の追加に失敗しました。", err)
	}
	return info, nil
}

// decodeSignature は data URL または base64 の署名画像を復号します。
// data URL 以外で PNG/JPEG として解釈できない場合は手入力の署名文字列とみなし、nil を返します。
func decodeSignature(data string) ([]byte, string, error) {
	if !strings.HasPrefix(data, "data:") {
		if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
			if img, ext, ok := signatureImage(raw); ok {
				return img, ext, nil
			}
		}
		if utf8.RuneCountInString(data) > 200 || strings.ContainsAny(data, "\r\n") {
			return nil, "", invalidInput("署名文字列は200文字以内の1行で指定してください。")
		}
		return nil, "", nil
	}

	idx := strings.Index(data, ",")
	if idx < 0 || !strings.Contains(data[:idx], ";base64") {
		return nil, "", invalidInput("署名データの形式が正しくありません。")
	}
	raw, err := base64.StdEncoding.DecodeString(data[idx+1:])
	if err != nil {
		return nil, "", invalidInput("署名データの形式が正しくありません。")
	}
	if len(raw) > maxSignatureBytes {
		return nil, "", invalidInput("署名画像が大きすぎます。")
	}
	img, ext, ok := signatureImage(raw)
	if !ok {
		return nil, "", invalidInput(fmt.Sprintf("署名画像は PNG または JPEG を指定してください (detected: %s)", mimetype.Detect(raw).String()))
	}
	return img, ext, nil
}

func signatureImage(raw []byte) ([]byte, string, bool) {
	if len(raw) == 0 || len(raw) > maxSignatureBytes {
		return nil, "", false
	}
	mt := mimetype.Detect(raw)
	switch {
	case mt.Is("image/png"):
		return raw, ".png", true
	case mt.Is("image/jpeg"):
		return raw, ".jpg", true
	}
	return nil, "", false
}

// anchorOffset はアンカーから用紙の内側に向かう余白を返します。
func anchorOffset(anchor string) (int, int) {
	dx, dy := 0, 0
	switch {
	case strings.HasSuffix(anchor, "l"):
		dx = signatureMargin
	case strings.HasSuffix(anchor, "r"):
		dx = -signatureMargin
	}
	switch {
	case strings.HasPrefix(anchor, "b"):
		dy = signatureMargin
	case strings.HasPrefix(anchor, "t"):
		dy = -signatureMargin
	}
	return dx, dy
}

// imageOffsetY は署名画像を署名者情報の上に配置するための縦方向オフセットです。
func imageOffsetY(anchor string, dy int) int {
	if strings.HasPrefix(anchor, "t") {
		return dy
	}
	return dy + 3*signatureMargin
}
