// Package cursor materialises stepwise row production from a compiled statement into a typed result,
// honouring an execution deadline.
package cursor

import (
	"encoding/json"
	"strconv"
)

// Kind identifies the concrete value an Entity carries.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
	// KindOK and KindDone are status markers used only when an Entity stream represents
	// a whole result rather than a single cell.
	KindOK
	KindDone
)

// Entity is a single cell value drawn from {Integer, Float, Text, Blob, Null}, plus the two status
// markers OK and Done used when an Entity stream stands in for a whole result.
//
// It follows the same tagged-wrapper shape as the nullable types in package types (a discriminant plus
// one field per concrete representation), generalised to a closed set of five value kinds.
type Entity struct {
	Kind         Kind
	Integer      int64
	Float        float64
	Text         string
	Blob         []byte
	ModifiedRows int64 // meaningful only when Kind == KindDone
}

func Null() Entity                   { return Entity{Kind: KindNull} }
func Integer(v int64) Entity         { return Entity{Kind: KindInteger, Integer: v} }
func Float64(v float64) Entity       { return Entity{Kind: KindFloat, Float: v} }
func Text(v string) Entity           { return Entity{Kind: KindText, Text: v} }
func Blob(v []byte) Entity           { return Entity{Kind: KindBlob, Blob: v} }
func OK() Entity                     { return Entity{Kind: KindOK} }
func Done(modifiedRows int64) Entity { return Entity{Kind: KindDone, ModifiedRows: modifiedRows} }

// TypeTag returns the tag used to prefix stream entry field names ("null", "int", "real", "text", "blob").
func (e Entity) TypeTag() string {
	switch e.Kind {
	case KindInteger:
		return "int"
	case KindFloat:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return "null"
	}
}

// TypeName returns the SQLite-style column type string ("INT", "FLOAT", "TEXT", "BLOB", "NULL").
func (e Entity) TypeName() string {
	switch e.Kind {
	case KindInteger:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return "NULL"
	}
}

// AsText returns the textual form of the cell, as used for stream entry values ("(null)" for null).
func (e Entity) AsText() string {
	switch e.Kind {
	case KindInteger:
		return strconv.FormatInt(e.Integer, 10)
	case KindFloat:
		return strconv.FormatFloat(e.Float, 'g', -1, 64)
	case KindText:
		return e.Text
	case KindBlob:
		return string(e.Blob)
	default:
		return "(null)"
	}
}

// MarshalJSON implements json.Marshaler, mainly for tests and diagnostics.
func (e Entity) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindInteger:
		return json.Marshal(e.Integer)
	case KindFloat:
		return json.Marshal(e.Float)
	case KindText:
		return json.Marshal(e.Text)
	case KindBlob:
		return json.Marshal(e.Blob)
	default:
		return []byte("null"), nil
	}
}

// Assert interface compliance.
var _ json.Marshaler = Entity{}
