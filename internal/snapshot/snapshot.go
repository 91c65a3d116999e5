// Package snapshot reads uploaded snapshot files into raw rows for the
// normalizer. It does not interpret column values.
package snapshot

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"shipwatch/internal/normalize"
)

// ErrUnsupportedFormat is returned when a body is neither CSV nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported snapshot format")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read picks a reader from the content type, falling back to sniffing the body.
func Read(contentType string, body []byte) ([]normalize.Row, error) {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "application/json":
		return ReadJSON(body)
	case "text/csv", "application/csv":
		return ReadCSV(bytes.NewReader(body))
	}

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[', '{':
		return ReadJSON(trimmed)
	}
	if bytes.IndexByte(trimmed, 0) >= 0 {
		return nil, ErrUnsupportedFormat
	}
	return ReadCSV(bytes.NewReader(trimmed))
}

// ReadCSV treats the first record as the header. The delimiter is ';' when the
// header contains more semicolons than commas.
func ReadCSV(r io.Reader) ([]normalize.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	cr := csv.NewReader(bytes.NewReader(data))
	if bytes.Count(header, []byte{';'}) > bytes.Count(header, []byte{','}) {
		cr.Comma = ';'
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	cols, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var rows []normalize.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make(normalize.Row, len(cols))
		empty := true
		for i, c := range cols {
			if i >= len(rec) {
				break
			}
			row[c] = rec[i]
			if strings.TrimSpace(rec[i]) != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ReadJSON accepts an array of objects or a single object. Scalars are
// stringified and non-object elements are skipped.
func ReadJSON(body []byte) ([]normalize.Row, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrUnsupportedFormat)
	}
	doc := gjson.ParseBytes(body)
	var rows []normalize.Row
	toRow := func(obj gjson.Result) {
		row := make(normalize.Row)
		obj.ForEach(func(k, v gjson.Result) bool {
			switch v.Type {
			case gjson.Null:
			case gjson.JSON:
				row[k.String()] = v.Raw
			default:
				row[k.String()] = v.String()
			}
			return true
		})
		rows = append(rows, row)
	}
	switch {
	case doc.IsArray():
		doc.ForEach(func(_, v gjson.Result) bool {
			if v.IsObject() {
				toRow(v)
			}
			return true
		})
	case doc.IsObject():
		toRow(doc)
	default:
		return nil, fmt.Errorf("%w: expected array or object", ErrUnsupportedFormat)
	}
	return rows, nil
}
