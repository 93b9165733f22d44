package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"geoinsight/api/internal/model"
)

// exportLimit caps one trajectory export.
const exportLimit = 500

// ReportStore is the store surface reports read from. Satisfied by
// *store.Store.
type ReportStore interface {
	DeviceByID(ctx context.Context, userID, deviceID uint) (*model.Device, error)
	ListTrajectories(ctx context.Context, deviceID uint, start, end *time.Time, limit int) ([]model.Trajectory, error)
}

// ReportService builds downloadable trajectory reports.
type ReportService struct {
	store ReportStore
}

// NewReportService creates the report service.
func NewReportService(st ReportStore) *ReportService {
	return &ReportService{store: st}
}

// TrajectoryWorkbook renders a device's trajectories in a window as an
// xlsx workbook. The returned filename follows
// trajectories_<device>_<yyyymmdd>.xlsx.
func (s *ReportService) TrajectoryWorkbook(ctx context.Context, userID, deviceID uint, start, end *time.Time) (*bytes.Buffer, string, error) {
	device, err := s.store.DeviceByID(ctx, userID, deviceID)
	if err != nil {
		return nil, "", err
	}
	trajectories, err := s.store.ListTrajectories(ctx, deviceID, start, end, exportLimit)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Trajectories"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Trajectory ID", "Start (UTC)", "End (UTC)", "Points", "Distance (m)", "Avg speed (m/s)", "Max speed (m/s)"}
	for i, h := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheet, cell, h)
	}

	for i, tr := range trajectories {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), tr.ID)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), tr.StartTime.UTC().Format(time.RFC3339))
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), tr.EndTime.UTC().Format(time.RFC3339))
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), tr.PointCount)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), tr.TotalDistanceM)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), tr.AvgSpeedMS)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), tr.MaxSpeedMS)
	}

	f.SetColWidth(sheet, "B", "C", 22)
	f.SetColWidth(sheet, "D", "G", 16)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("trajectories_%d_%s.xlsx", device.ID, time.Now().UTC().Format("20060102"))
	return &buf, filename, nil
}
