package sheets

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Row is one finalized report as it lands in the spreadsheet.
type Row struct {
	Timestamp   string
	Category    string
	Description string
	Latitude    float64
	Longitude   float64
}

// Values renders the row in column order: timestamp, category,
// description, latitude, longitude.
func (r Row) Values() []interface{} {
	return []interface{}{r.Timestamp, r.Category, r.Description, r.Latitude, r.Longitude}
}

// Appender adds a row after the last populated row of a sheet.
type Appender interface {
	AppendRow(ctx context.Context, row Row) error
}

// Sheet appends rows to a fixed spreadsheet range.
type Sheet struct {
	svc           *gsheets.Service
	spreadsheetID string
	rangeA1       string
}

func NewSheet(ctx context.Context, credentialsFile, spreadsheetID, rangeA1 string, opts ...option.ClientOption) (*Sheet, error) {
	base := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		base = append(base, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := gsheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	if rangeA1 == "" {
		rangeA1 = "A1"
	}
	return &Sheet{svc: svc, spreadsheetID: spreadsheetID, rangeA1: rangeA1}, nil
}

func (s *Sheet) AppendRow(ctx context.Context, row Row) error {
	vr := &gsheets.ValueRange{Values: [][]interface{}{row.Values()}}
	resp, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.rangeA1, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets append: %w", err)
	}
	if resp.Updates != nil {
		log.Printf("sheets append range=%s rows=%d", resp.Updates.UpdatedRange, resp.Updates.UpdatedRows)
	}
	return nil
}
