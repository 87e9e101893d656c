package account

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/models"
)

const (
	exportSheet    = "History"
	xlsxMediaType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportRowLimit = 1000
)

var exportHeaders = []string{"Date (UTC)", "Operation", "Status", "Job ID", "File ID", "Output", "Error"}

// ExportHistory は GET /api/user/history/export のハンドラーです。履歴を XLSX で返します。
func (h *Handler) ExportHistory(c *gin.Context) {
	userID := auth.UserID(c)
	rows, err := h.history.ListByUser(c.Request.Context(), userID, exportRowLimit)
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "履歴の取得に失敗しました。", err))
		return
	}

	buf, err := historyWorkbook(rows)
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInternal, "エクスポートの作成に失敗しました。", err))
		return
	}

	name := fmt.Sprintf("easypdf-history-%s.xlsx", h.now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, xlsxMediaType, buf.Bytes())
	h.log.Info("history exported", "user_id", userID, "rows", len(rows))
}

// historyWorkbook は履歴を1シートのワークブックにします。
func historyWorkbook(rows []models.ProcessingHistory) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, err
	}
	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, err
		}
	}

	for i, r := range rows {
		row := i + 2
		output := ""
		if result, ok := parseResult(r.Result).(map[string]any); ok {
			output, _ = result["filePath"].(string)
		}
		values := []any{
			r.CreatedAt.UTC().Format(time.DateTime),
			r.Operation,
			r.Status,
			r.JobID,
			deref(r.FileID),
			output,
			deref(r.Error),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 20)
	_ = f.SetColWidth(exportSheet, "B", "C", 16)
	_ = f.SetColWidth(exportSheet, "D", "E", 38)
	_ = f.SetColWidth(exportSheet, "F", "G", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
