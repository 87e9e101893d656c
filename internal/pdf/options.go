package pdf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Options は操作ごとの型付きオプションです。
type Options interface {
	Operation() OperationType
	// Normalize は既定値を補い、値を検証します。
	Normalize() error
}

type MergeOptions struct{}

type SplitOptions struct {
	Ranges string `json:"ranges"` // 例: "1-3,4,5-"
}

type CompressOptions struct {
	Quality string `json:"quality"` // low | medium | high
}

type RotateOptions struct {
	Rotation int   `json:"rotation"` // 90 | 180 | 270
	Pages    []int `json:"pages"`    // 空なら全ページ
}

type WatermarkOptions struct {
	Text     string  `json:"text"`
	Opacity  float64 `json:"opacity"`
	FontSize int     `json:"fontSize"`
	Position string  `json:"position"`
	Color    string  `json:"color"`
}

type UnlockOptions struct {
	Password string `json:"password"`
}

type ESignOptions struct {
	SignatureData string `json:"signatureData"`
	Position      string `json:"position"`
	Page          int    `json:"page"`
	SignerName    string `json:"signerName"`
}

type OCROptions struct {
	Language string `json:"language"`
}

const (
	defaultWatermarkOpacity  = 0.3
	defaultWatermarkFontSize = 24
	defaultWatermarkColor    = "#000000"
	defaultWatermarkPosition = "center"
	defaultSignaturePosition = "bottom-right"
	defaultRotation          = 90
	defaultCompressQuality   = "medium"
)

// positionAnchors は位置指定を pdfcpu のアンカーに対応付けます。
var positionAnchors = map[string]string{
	"center":        "c",
	"top-left":      "tl",
	"top-center":    "tc",
	"top-right":     "tr",
	"bottom-left":   "bl",
	"bottom-center": "bc",
	"bottom-right":  "br",
}

var (
	hexColor     = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	languageCode = regexp.MustCompile(`^[a-z_]{3,8}(\+[a-z_]{3,8})*$`)
)

func (MergeOptions) Operation() OperationType     { return OperationMerge }
func (SplitOptions) Operation() OperationType     { return OperationSplit }
func (CompressOptions) Operation() OperationType  { return OperationCompress }
func (RotateOptions) Operation() OperationType    { return OperationRotate }
func (WatermarkOptions) Operation() OperationType { return OperationWatermark }
func (UnlockOptions) Operation() OperationType    { return OperationUnlock }
func (ESignOptions) Operation() OperationType     { return OperationESign }
func (OCROptions) Operation() OperationType       { return OperationOCR }

func (o *MergeOptions) Normalize() error { return nil }

func (o *SplitOptions) Normalize() error {
	o.Ranges = strings.TrimSpace(o.Ranges)
	if o.Ranges == "" {
		return invalidInput("分割するページ範囲を指定してください。")
	}
	return nil
}

func (o *CompressOptions) Normalize() error {
	switch strings.ToLower(strings.TrimSpace(o.Quality)) {
	case "":
		o.Quality = defaultCompressQuality
	case "low", "medium", "high":
		o.Quality = strings.ToLower(strings.TrimSpace(o.Quality))
	default:
		return invalidInput(fmt.Sprintf("quality には low / medium / high を指定してください (received: %s)", o.Quality))
	}
	return nil
}

func (o *RotateOptions) Normalize() error {
	switch o.Rotation {
	case 0:
		o.Rotation = defaultRotation
	case 90, 180, 270, -90:
	default:
		return invalidInput("rotation には 90 / 180 / 270 を指定してください。")
	}
	if o.Rotation == -90 {
		o.Rotation = 270
	}
	for _, p := range o.Pages {
		if p < 1 {
			return invalidInput("ページ番号は1以上で指定してください。")
		}
	}
	return nil
}

func (o *WatermarkOptions) Normalize() error {
	o.Text = strings.TrimSpace(o.Text)
	if o.Text == "" {
		return invalidInput("透かし文字を指定してください。")
	}
	if o.Opacity <= 0 || o.Opacity > 1 {
		o.Opacity = defaultWatermarkOpacity
	}
	if o.FontSize <= 0 || o.FontSize > 200 {
		o.FontSize = defaultWatermarkFontSize
	}
	if !hexColor.MatchString(o.Color) {
		o.Color = defaultWatermarkColor
	}
	if _, ok := positionAnchors[o.Position]; !ok {
		o.Position = defaultWatermarkPosition
	}
	return nil
}

func (o *UnlockOptions) Normalize() error { return nil }

func (o *ESignOptions) Normalize() error {
	o.SignatureData = strings.TrimSpace(o.SignatureData)
	if o.SignatureData == "" {
		return invalidInput("署名データを指定してください。")
	}
	if _, ok := positionAnchors[o.Position]; !ok {
		o.Position = defaultSignaturePosition
	}
	if o.Page <= 0 {
		o.Page = 1
	}
	o.SignerName = strings.TrimSpace(o.SignerName)
	if o.SignerName == "" {
		o.SignerName = "Unknown"
	}
	return nil
}

func (o *OCROptions) Normalize() error {
	o.Language = strings.TrimSpace(o.Language)
	if o.Language != "" && !languageCode.MatchString(o.Language) {
		return invalidInput("language の形式が正しくありません。例: eng, jpn+eng")
	}
	return nil
}

// NewOptions は操作に対応する空のオプションを返します。
func NewOptions(op OperationType) (Options, error) {
	switch op {
	case OperationMerge:
		return &MergeOptions{}, nil
	case OperationSplit:
		return &SplitOptions{}, nil
	case OperationCompress:
		return &CompressOptions{}, nil
	case OperationRotate:
		return &RotateOptions{}, nil
	case OperationWatermark:
		return &WatermarkOptions{}, nil
	case OperationUnlock:
		return &UnlockOptions{}, nil
	case OperationESign:
		return &ESignOptions{}, nil
	case OperationOCR:
		return &OCROptions{}, nil
	default:
		return nil, invalidInput(fmt.Sprintf("未対応の操作です: %s", op))
	}
}

// DecodeOptions は JSON のオプションを操作ごとの型に変換して検証します。
// raw が空または null の場合は既定値で検証します。未知のキーは INVALID_INPUT です。
func DecodeOptions(op OperationType, raw json.RawMessage) (Options, error) {
	opts, err := NewOptions(op)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(opts); err != nil {
			return nil, invalidInput("options の形式が正しくありません。")
		}
		if dec.More() {
			return nil, invalidInput("options の形式が正しくありません。")
		}
	}
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	return opts, nil
}
