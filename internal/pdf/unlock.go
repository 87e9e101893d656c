package pdf

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// unlock は指定パスワードでPDFを復号します。暗号化されていない場合はそのまま複製します。
func (a *Adapter) unlock(ctx context.Context, in Input, opts *UnlockOptions, outPath string) (*UnlockMeta, error) {
	conf := pdfcpuConfig()
	conf.UserPW = opts.Password
	conf.OwnerPW = opts.Password

	err := runLibrary(ctx, func() error {
		return api.DecryptFile(in.Path, outPath, conf)
	}, outPath)
	switch {
	case err == nil:
		return &UnlockMeta{WasEncrypted: true}, nil
	case ctx.Err() != nil:
		return nil, err
	case strings.Contains(strings.ToLower(err.Error()), "not encrypted"):
		if err := copyFile(in.Path, outPath); err != nil {
			return nil, adapterFailure("ファイルの複製に失敗しました。", err)
		}
		return &UnlockMeta{WasEncrypted: false}, nil
	case strings.Contains(strings.ToLower(err.Error()), "password"):
		return nil, invalidInput("パスワードが正しくありません。")
	default:
		return nil, adapterFailure("PDFのロック解除に失敗しました。", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
