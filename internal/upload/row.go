// Package upload implements the Upload Job Coordinator: it takes the rows
// produced by the (externally-owned) spreadsheet parser, classifies and
// groups them, and drives a background job through the
// suppliers → pos → batches → queuing → complete stages of spec §4.9,
// publishing progress as it goes.
package upload

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"go.poresolve.tech/internal/domain/money"
)

// Row is the shape a parsed spreadsheet line is reduced to before it
// reaches the coordinator. The spreadsheet parser itself is an external
// collaborator (spec §1 "out of scope"); this is the interface boundary
// the core consumes.
type Row struct {
	PONumber        string
	POLine          string
	SupplierNumber  string
	SupplierName    string
	Phone           string
	Email           string
	Facility        string
	DueDate         time.Time
	RecommendedDate *time.Time
	TotalValue      money.Cents
}

// RowParser turns raw uploaded bytes into rows. Implementations for real
// `.xlsx`/`.xls` workbooks live outside this module's scope; CSVRowParser
// below is the thin, format-agnostic stand-in that lets the rest of the
// pipeline (classify → group → batch → queue) be exercised end-to-end
// without a spreadsheet library in the loop.
type RowParser interface {
	ParseRows(r io.Reader) ([]Row, error)
}

// dateLayout is the wall-clock date format accepted in the due/recommended
// date columns: a plain calendar date with no timezone component, matching
// the classifier's day-precision comparison (spec §4.4).
const dateLayout = "2006-01-02"

// CSVRowParser reads a header row followed by data rows from a
// comma-separated upload: poNumber,poLine,supplierNumber,supplierName,
// phone,email,facility,dueDate,recommendedDate,totalValue. recommendedDate
// may be empty (classified as CANCEL per spec §4.4).
type CSVRowParser struct{}

// ParseRows implements RowParser.
func (CSVRowParser) ParseRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Skip the header row.
	records = records[1:]

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(rec []string) (Row, error) {
	get := func(i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	dueDate, err := time.Parse(dateLayout, get(7))
	if err != nil {
		return Row{}, fmt.Errorf("invalid dueDate %q: %w", get(7), err)
	}

	var recommended *time.Time
	if s := get(8); s != "" {
		rd, err := time.Parse(dateLayout, s)
		if err != nil {
			return Row{}, fmt.Errorf("invalid recommendedDate %q: %w", s, err)
		}
		recommended = &rd
	}

	value, err := money.FromString(get(9))
	if err != nil {
		return Row{}, fmt.Errorf("invalid totalValue %q: %w", get(9), err)
	}

	return Row{
		PONumber:        get(0),
		POLine:          get(1),
		SupplierNumber:  get(2),
		SupplierName:    get(3),
		Phone:           get(4),
		Email:           get(5),
		Facility:        get(6),
		DueDate:         dueDate,
		RecommendedDate: recommended,
		TotalValue:      value,
	}, nil
}
