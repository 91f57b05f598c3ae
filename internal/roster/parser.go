package roster

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// ErrEmptyFile means the upload produced no usable rows: missing header,
// unknown columns, or every row dropped.
var ErrEmptyFile = errors.New("empty_or_invalid_file")

type Row struct {
	Name  string
	Email string
}

// ParseRows reads a headered CSV stream and returns the usable rows plus the
// count of rows that were dropped. A row without a name or an email is
// dropped, not treated as an error; callers surface the dropped count.
func ParseRows(r io.Reader) ([]Row, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, ErrEmptyFile
	}

	nameIdx, emailIdx := -1, -1
	for i, column := range header {
		switch strings.ToLower(strings.TrimSpace(column)) {
		case "name":
			nameIdx = i
		case "email":
			emailIdx = i
		}
	}
	if nameIdx < 0 || emailIdx < 0 {
		return nil, 0, ErrEmptyFile
	}

	var rows []Row
	dropped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			dropped++
			continue
		}
		name := field(record, nameIdx)
		email := field(record, emailIdx)
		if name == "" || email == "" {
			dropped++
			continue
		}
		rows = append(rows, Row{
			Name:  name,
			Email: strings.ToLower(email),
		})
	}

	if len(rows) == 0 {
		return nil, dropped, ErrEmptyFile
	}
	return rows, dropped, nil
}

func field(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
