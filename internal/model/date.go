package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day. The zero value is the invalid
// sentinel: it sorts after every valid date and never forms a key.
type Date struct {
	t     time.Time
	valid bool
}

// NewDate builds a valid date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), valid: true}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t: t, valid: true}, nil
}

// MustDate is ParseDate for literals; it panics on bad input.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Valid() bool { return d.valid }

// String returns YYYY-MM-DD, or "invalid".
func (d Date) String() string {
	if !d.valid {
		return "invalid"
	}
	return d.t.Format(dateLayout)
}

// Compare orders dates ascending with the invalid sentinel last.
func (d Date) Compare(o Date) int {
	switch {
	case !d.valid && !o.valid:
		return 0
	case !d.valid:
		return 1
	case !o.valid:
		return -1
	}
	return d.t.Compare(o.t)
}

// Equal reports whether both dates are the same day (or both invalid).
func (d Date) Equal(o Date) bool { return d.Compare(o) == 0 }

// DaysUntil returns the whole days from d to o (o - d). Both must be valid.
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if !d.valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	p, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	*d = p
	return nil
}
