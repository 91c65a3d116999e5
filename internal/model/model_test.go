package model

import (
	"encoding/json"
	"testing"
)

func TestShortID(t *testing.T) {
	cases := map[string]string{
		"d1-norte":    "D1",
		"  123 - abc": "123",
		"X":           "X",
		"a-b-c":       "A",
		"":            "",
	}
	for in, want := range cases {
		if got := ShortID(in); got != want {
			t.Fatalf("ShortID(%q)=%q want %q", in, got, want)
		}
	}
}

func TestKeyOf_SchemaArity(t *testing.T) {
	r := Record{Destination: " d1 ", OrderFolio: "f9", Product: "p1", Date: MustDate("2024-01-01")}
	k1, ok := KeySchemaV1.KeyOf(r)
	if !ok || k1 != "D1#P1#2024-01-01" {
		t.Fatalf("v1 key=%q ok=%v", k1, ok)
	}
	k2, ok := KeySchemaV2.KeyOf(r)
	if !ok || k2 != "D1#F9#P1#2024-01-01" {
		t.Fatalf("v2 key=%q ok=%v", k2, ok)
	}

	r.OrderFolio = ""
	if _, ok := KeySchemaV2.KeyOf(r); ok {
		t.Fatalf("v2 key without folio should not be formed")
	}
	if _, ok := KeySchemaV1.KeyOf(Record{Destination: "d", Product: "p"}); ok {
		t.Fatalf("invalid date must not form a key")
	}
}

func TestKeyOf_EscapesSeparator(t *testing.T) {
	a, _ := KeySchemaV1.KeyOf(Record{Destination: "A#B", Product: "C", Date: MustDate("2024-01-01")})
	b, _ := KeySchemaV1.KeyOf(Record{Destination: "A", Product: "B#C", Date: MustDate("2024-01-01")})
	if a == b {
		t.Fatalf("distinct tuples collided: %q", a)
	}
}

func TestDate_CompareInvalidLast(t *testing.T) {
	d := MustDate("2030-12-31")
	if d.Compare(Date{}) >= 0 || (Date{}).Compare(d) <= 0 {
		t.Fatalf("invalid must sort last")
	}
	if MustDate("2024-01-01").DaysUntil(MustDate("2024-01-10")) != 9 {
		t.Fatalf("DaysUntil mismatch")
	}
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	in := Record{
		Destination: "D1-X", Product: "P1", Date: MustDate("2024-01-01"), Status: "CARGANDO",
		Attributes: map[string]string{AttrShift: "A", AttrCapacity: "30000"},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Date.Equal(in.Date) || out.Attributes[AttrCapacity] != "30000" || out.Status != in.Status {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(" facturado ") || !IsTerminal("CANCELADO") || IsTerminal("PROGRAMADO") {
		t.Fatalf("terminal classification wrong")
	}
}
