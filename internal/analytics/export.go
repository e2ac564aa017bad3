package analytics

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX 把统计结果写成 Excel 工作簿：一个汇总表和若干分组表。
func WriteXLSX(w io.Writer, s Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	rows := [][]any{
		{"Metric", "Value"},
		{"Total students", s.Totals.Students},
		{"Total placements", s.Totals.Placements},
		{"Total announcements", s.Totals.Announcements},
		{"Pending videos", s.Totals.PendingVideos},
		{"Approved videos", s.Totals.ApprovedVideos},
		{"Average ATS score", s.Totals.AvgATSScore},
		{"Placement rate (%)", s.Totals.PlacementRate},
		{"Generated at", s.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	groups := []struct {
		sheet   string
		header  string
		buckets []Bucket
	}{
		{"Companies", "Company", s.PlacementsByCompany},
		{"Students by year", "Year", s.StudentsByYear},
		{"Students by branch", "Branch", s.StudentsByBranch},
		{"Video status", "Status", s.VideoStatus},
	}
	for _, g := range groups {
		if _, err := f.NewSheet(g.sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", g.sheet, err)
		}
		data := [][]any{{g.header, "Count"}}
		for _, b := range g.buckets {
			data = append(data, []any{b.Name, b.Count})
		}
		if err := writeRows(f, g.sheet, data); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
