package normalize

import (
	"strconv"
	"strings"
	"time"

	"shipwatch/internal/model"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006",
	"2006/01/02",
}

// spreadsheet serial day 0
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate folds a raw value to a calendar date. ok is false when nothing
// matched; the returned date is then the invalid sentinel.
func ParseDate(raw string) (model.Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return model.Date{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.DateOf(t), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f < 2958466 {
		return model.DateOf(serialEpoch.AddDate(0, 0, int(f))), true
	}
	return model.Date{}, false
}
