package reports

import (
	"assetcore/pkg/domain"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// csvColumns is the register column order.
var csvColumns = []string{
	"id", "name", "category", "serial_number", "model", "manufacturer", "location",
	"status", "current_assignment_id", "purchase_date", "purchase_price", "vendor",
	"warranty_end", "current_value", "created_at", "updated_at",
}

type registerDocument struct {
	ReportID    string         `json:"report_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Filter      Filter         `json:"filter"`
	Count       int            `json:"count"`
	Assets      []domain.Asset `json:"assets"`
}

func render(format Format, record Record, assets []domain.Asset, at time.Time) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		if assets == nil {
			assets = []domain.Asset{}
		}
		payload, err := json.Marshal(registerDocument{
			ReportID:    record.ID,
			GeneratedAt: at,
			Filter:      record.Filter,
			Count:       len(assets),
			Assets:      assets,
		})
		if err != nil {
			return nil, "", fmt.Errorf("marshal json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		payload, err := renderCSV(assets)
		if err != nil {
			return nil, "", fmt.Errorf("render csv: %w", err)
		}
		return payload, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported report format %s", format)
	}
}

func renderCSV(assets []domain.Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(csvColumns); err != nil {
		return nil, err
	}
	for _, a := range assets {
		row := []string{
			a.ID,
			a.Name,
			a.Category,
			a.SerialNumber,
			a.Model,
			a.Manufacturer,
			a.Location,
			string(a.Status),
			derefString(a.CurrentAssignmentID),
			formatDate(a.Purchase.Date),
			a.Purchase.Price.StringFixed(2),
			a.Purchase.Vendor,
			formatDate(a.Purchase.WarrantyEnd),
			a.CurrentValue.StringFixed(2),
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
