package model

import (
	"fmt"
	"strings"
)

// Key is the encoded composite identity of a record.
type Key string

// Field names a record field that may take part in a key.
type Field string

const (
	FieldDestination Field = "destination"
	FieldOrderFolio  Field = "orderFolio"
	FieldProduct     Field = "product"
	FieldDate        Field = "date"
)

// KeySchema is a versioned, fixed set of key fields.
type KeySchema struct {
	Version string
	Fields  []Field
}

var (
	// KeySchemaV1 is destination#product#date.
	KeySchemaV1 = KeySchema{Version: "v1", Fields: []Field{FieldDestination, FieldProduct, FieldDate}}
	// KeySchemaV2 adds the order folio.
	KeySchemaV2 = KeySchema{Version: "v2", Fields: []Field{FieldDestination, FieldOrderFolio, FieldProduct, FieldDate}}
)

// KeySchemaByVersion returns a predefined schema.
func KeySchemaByVersion(v string) (KeySchema, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case KeySchemaV1.Version:
		return KeySchemaV1, nil
	case KeySchemaV2.Version:
		return KeySchemaV2, nil
	}
	return KeySchema{}, fmt.Errorf("unknown key schema %q", v)
}

// Has reports whether f is part of the schema.
func (s KeySchema) Has(f Field) bool {
	for _, x := range s.Fields {
		if x == f {
			return true
		}
	}
	return false
}

var keyEscaper = strings.NewReplacer("%", "%25", "#", "%23")

// KeyOf returns the record key. ok is false when a key field is empty or the
// date is invalid; such records have no identity.
func (s KeySchema) KeyOf(r Record) (Key, bool) {
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		var v string
		switch f {
		case FieldDestination:
			v = Canon(r.Destination)
		case FieldOrderFolio:
			v = Canon(r.OrderFolio)
		case FieldProduct:
			v = Canon(r.Product)
		case FieldDate:
			if !r.Date.Valid() {
				return "", false
			}
			v = r.Date.String()
		}
		if v == "" {
			return "", false
		}
		parts = append(parts, keyEscaper.Replace(v))
	}
	return Key(strings.Join(parts, "#")), true
}
