// Package normalize maps raw snapshot rows onto model.Record values. Column
// names are matched tolerantly; rows missing a required field are dropped
// and counted, never reported as errors.
package normalize

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"shipwatch/internal/model"
)

// Row is one raw input row keyed by column header.
type Row map[string]string

// DropReason names why a row was discarded.
type DropReason string

const (
	DropMissingDestination DropReason = "missing_destination"
	DropMissingProduct     DropReason = "missing_product"
	DropMissingDate        DropReason = "missing_date"
	DropMissingFolio       DropReason = "missing_folio"
	DropMissingStatus      DropReason = "missing_status"
)

// Result is the outcome of normalizing one snapshot.
type Result struct {
	Records        []model.Record
	Dropped        map[DropReason]int
	InvalidDates   int // kept rows whose date did not parse
	UnknownColumns []string
}

// DroppedTotal sums all drop reasons.
func (r Result) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

type column int

const (
	colUnknown column = iota
	colDestination
	colProduct
	colStatus
	colDate
	colFolio
	colShift
	colCapacity
	colEstimatedAt
	colBilledAt
)

var aliases = map[string]column{
	"destino":              colDestination,
	"producto":             colProduct,
	"estado de atencion":   colStatus,
	"estado":               colStatus,
	"estatus":              colStatus,
	"fecha":                colDate,
	"folio pedido":         colFolio,
	"folio de pedido":      colFolio,
	"folio":                colFolio,
	"turno":                colShift,
	"capacidad":            colCapacity,
	"fecha estimada":       colEstimatedAt,
	"hora estimada":        colEstimatedAt,
	"fecha de facturacion": colBilledAt,
	"hora de facturacion":  colBilledAt,
	"fecha facturacion":    colBilledAt,
}

var attrNames = map[column]string{
	colShift:       model.AttrShift,
	colCapacity:    model.AttrCapacity,
	colEstimatedAt: model.AttrEstimatedAt,
	colBilledAt:    model.AttrBilledAt,
}

// FoldHeader lower-cases a header, strips accents and collapses separators so
// "Estado de Atención", "estado_de_atencion" and " ESTADO  DE ATENCION" match.
func FoldHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, h)
	if err != nil {
		s = h
	}
	s = strings.ToLower(strings.ReplaceAll(s, "_", " "))
	return strings.Join(strings.Fields(s), " ")
}

// Normalizer converts raw rows for one key schema.
type Normalizer struct {
	Schema model.KeySchema
	Logger zerolog.Logger
}

// New returns a Normalizer for schema.
func New(schema model.KeySchema, logger zerolog.Logger) *Normalizer {
	return &Normalizer{Schema: schema, Logger: logger}
}

// Normalize maps rows in input order. It never fails.
func (n *Normalizer) Normalize(rows []Row) Result {
	res := Result{Dropped: make(map[DropReason]int)}
	resolved := make(map[string]column)
	unknown := make(map[string]struct{})

	for i, row := range rows {
		var rec model.Record
		var rawDate string
		headers := make([]string, 0, len(row))
		for h := range row {
			headers = append(headers, h)
		}
		sort.Strings(headers)
		for _, header := range headers {
			raw := row[header]
			col, seen := resolved[header]
			if !seen {
				col = aliases[FoldHeader(header)]
				resolved[header] = col
			}
			v := strings.TrimSpace(raw)
			switch col {
			case colDestination:
				rec.Destination = model.Canon(v)
			case colProduct:
				rec.Product = model.Canon(v)
			case colStatus:
				rec.Status = model.Canon(v)
			case colDate:
				rawDate = v
			case colFolio:
				rec.OrderFolio = model.Canon(v)
			case colUnknown:
				unknown[header] = struct{}{}
			default:
				if v == "" {
					continue
				}
				if rec.Attributes == nil {
					rec.Attributes = make(map[string]string)
				}
				rec.Attributes[attrNames[col]] = v
			}
		}

		if reason, drop := n.missing(rec, rawDate); drop {
			res.Dropped[reason]++
			n.Logger.Debug().Int("row", i).Str("reason", string(reason)).Msg("row dropped")
			continue
		}
		d, ok := ParseDate(rawDate)
		if !ok {
			res.InvalidDates++
		}
		rec.Date = d
		res.Records = append(res.Records, rec)
	}

	for h := range unknown {
		res.UnknownColumns = append(res.UnknownColumns, h)
	}
	sort.Strings(res.UnknownColumns)
	if len(res.UnknownColumns) > 0 {
		n.Logger.Info().Strs("columns", res.UnknownColumns).Msg("ignoring unknown columns")
	}
	if total := res.DroppedTotal(); total > 0 {
		n.Logger.Warn().Int("dropped", total).Int("kept", len(res.Records)).Msg("rows dropped during normalization")
	}
	return res
}

func (n *Normalizer) missing(rec model.Record, rawDate string) (DropReason, bool) {
	switch {
	case rec.Destination == "":
		return DropMissingDestination, true
	case rec.Product == "":
		return DropMissingProduct, true
	case rawDate == "":
		return DropMissingDate, true
	case n.Schema.Has(model.FieldOrderFolio) && rec.OrderFolio == "":
		return DropMissingFolio, true
	case rec.Status == "":
		return DropMissingStatus, true
	}
	return "", false
}
