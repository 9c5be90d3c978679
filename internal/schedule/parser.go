package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseError is returned for documents that cannot be turned into an Index.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "schedule: " + e.Reason + ": " + e.Err.Error()
	}
	return "schedule: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or anything it wraps) is a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

type Parser interface {
	Parse(ctx context.Context, r io.Reader) (*Index, error)
}

// XLSXParser reads a workbook laid out as:
//
//	| Группа | Пн        | Вт       | ... |
//	| П-2109 | 9:00 Math |          |     |
//	|        | 11:00 Art | 9:00 Bio |     |
//
// The first non-empty row is the header; its first cell labels the group
// column and the rest label time slots. A row with an empty group cell
// continues the group above it (merged cells). Each non-empty slot becomes
// one line "<label> <cell>".
type XLSXParser struct {
	// Sheet to read; empty means the first sheet of the workbook.
	Sheet string
	// MaxRows bounds the work per upload; 0 means 10000.
	MaxRows int
}

func (p XLSXParser) Parse(ctx context.Context, r io.Reader) (*Index, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Reason: "open workbook", Err: err}
	}
	defer func() { _ = f.Close() }()

	sheet := p.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, &ParseError{Reason: "workbook has no sheets"}
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("read sheet %q", sheet), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buildIndex(rows, p.maxRows())
}

func (p XLSXParser) maxRows() int {
	if p.MaxRows > 0 {
		return p.MaxRows
	}
	return 10000
}

func buildIndex(rows [][]string, maxRows int) (*Index, error) {
	if len(rows) > maxRows {
		return nil, &ParseError{Reason: fmt.Sprintf("too many rows: %d > %d", len(rows), maxRows)}
	}

	header := -1
	for i, row := range rows {
		if !blankRow(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, &ParseError{Reason: "sheet is empty"}
	}
	labels := rows[header]

	idx := &Index{groups: map[string]group{}}
	current := ""
	for _, row := range rows[header+1:] {
		if blankRow(row) {
			continue
		}
		if name := cell(row, 0); name != "" {
			current = name
		}
		if current == "" {
			continue
		}
		var lines []string
		for col := 1; col < len(row); col++ {
			v := cell(row, col)
			if v == "" {
				continue
			}
			if label := cell(labels, col); label != "" {
				v = label + " " + v
			}
			lines = append(lines, v)
		}
		idx.add(current, lines...)
	}
	if idx.Len() == 0 {
		return nil, &ParseError{Reason: "no groups found below the header row"}
	}
	return idx, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.Join(strings.Fields(row[i]), " ")
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
