package pdf

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// split はページ範囲ごとにPDFを切り出し、zip にまとめます。
func (a *Adapter) split(ctx context.Context, in Input, opts *SplitOptions, outPath string, progress ProgressReporter) (*SplitMeta, error) {
	pages, err := PageCount(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	ranges, err := parsePageRanges(opts.Ranges, pages)
	if err != nil {
		return nil, err
	}

	ws, err := newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.cleanup()

	partsMeta := make([]SplitPart, 0, len(ranges))
	partPaths := make([]string, 0, len(ranges))
	conf := pdfcpuConfig()

	for i, pr := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		partName := fmt.Sprintf("part-%02d.pdf", i+1)
		partPath := ws.path(partName)
		selection := buildPageSelection(pr)

		if err := runLibrary(ctx, func() error {
			return api.CollectFile(in.Path, partPath, selection, conf)
		}, partPath); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, adapterFailure(fmt.Sprintf("ページ範囲 %d の生成に失敗しました。", i+1), err)
		}
		reportProgress(progress, "process", 20+(60*(i+1))/len(ranges))

		info, statErr := os.Stat(partPath)
		if statErr != nil {
			return nil, adapterFailure("分割ファイルの確認に失敗しました。", statErr)
		}

		partsMeta = append(partsMeta, SplitPart{
			Filename: partName,
			FromPage: pr.Start,
			ToPage:   pr.End,
			Pages:    pr.End - pr.Start + 1,
			Size:     info.Size(),
		})
		partPaths = append(partPaths, partPath)
	}

	if err := createZip(outPath, partPaths); err != nil {
		return nil, err
	}

	return &SplitMeta{
		Original: SourceFileMeta{ID: in.ID, Name: in.Name, Size: in.Size, Pages: pages},
		Ranges:   ranges,
		Parts:    partsMeta,
	}, nil
}

// parsePageRanges は "1-3,5,7-" 形式の範囲指定を解釈します。
// 範囲は昇順で重なりがないことを要求します。
func parsePageRanges(expr string, pageCount int) ([]PageRange, error) {
	if pageCount <= 0 {
		return nil, invalidInput("ページが含まれていないPDFは分割できません。")
	}
	segments := strings.Split(expr, ",")
	ranges := make([]PageRange, 0, len(segments))
	lastEnd := 0

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, invalidInput("空の範囲指定が含まれています。")
		}

		start, end, err := parseSingleRange(seg, pageCount)
		if err != nil {
			return nil, err
		}
		if start <= lastEnd {
			return nil, invalidInput("ページ範囲は昇順かつ重複なしで指定してください。")
		}
		lastEnd = end
		ranges = append(ranges, PageRange{Start: start, End: end})
	}

	return ranges, nil
}

func parseSingleRange(seg string, pageCount int) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		if len(parts) != 2 {
			return 0, 0, invalidInput("範囲指定が正しくありません。")
		}
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, invalidInput("範囲開始が整数ではありません。")
		}
		var end int
		if strings.TrimSpace(parts[1]) == "" {
			end = pageCount
		} else {
			end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return 0, 0, invalidInput("範囲終了が整数ではありません。")
			}
		}

		if start < 1 || end < start || end > pageCount {
			return 0, 0, invalidInput("範囲指定がページ数の範囲外です。")
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, invalidInput("ページ番号が整数ではありません。")
	}
	if page < 1 || page > pageCount {
		return 0, 0, invalidInput("ページ番号がページ数の範囲外です。")
	}
	return page, page, nil
}

func buildPageSelection(pr PageRange) []string {
	if pr.Start == pr.End {
		return []string{strconv.Itoa(pr.Start)}
	}
	return []string{fmt.Sprintf("%d-%d", pr.Start, pr.End)}
}

// createZip は files をファイル名順に outputPath の zip へ格納します。
func createZip(outputPath string, files []string) (err error) {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return adapterFailure("zipファイルの作成に失敗しました。", err)
	}
	zw := zip.NewWriter(outFile)
	defer func() {
		if cerr := zw.Close(); err == nil && cerr != nil {
			err = adapterFailure("zipファイルの書き込みに失敗しました。", cerr)
		}
		if cerr := outFile.Close(); err == nil && cerr != nil {
			err = adapterFailure("zipファイルの書き込みに失敗しました。", cerr)
		}
	}()

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, path := range sorted {
		if err := addZipEntry(zw, path); err != nil {
			return adapterFailure("zipへの書き込みに失敗しました。", err)
		}
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
