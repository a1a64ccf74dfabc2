package pyharbor

import (
	"fmt"
	"strconv"
)

// ValueKind tags the variant carried by a Value.
type ValueKind int

const (
	// KindNone is the zero Value (Python None or no result).
	KindNone ValueKind = iota
	// KindString is a textual result.
	KindString
	// KindNumber is a numeric result, held as float64.
	KindNumber
	// KindBool is a boolean result.
	KindBool
	// KindOpaque is any other interpreter object, held as its repr text.
	KindOpaque
)

func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindOpaque:
		return "opaque"
	}
	return "unknown"
}

// Value is the tagged variant used at the interpreter marshalling boundary.
// Results crossing from the interpreter are classified into one of the kinds
// above rather than handed around as untyped interface values.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// valueFrom classifies a decoded wire value. The codecs deliver strings,
// bools and a spread of numeric widths; everything else is opaque text.
func valueFrom(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Value{Kind: KindNone}
	case string:
		return Value{Kind: KindString, Str: t}
	case bool:
		return Value{Kind: KindBool, Bool: t}
	case float64:
		return Value{Kind: KindNumber, Num: t}
	case float32:
		return Value{Kind: KindNumber, Num: float64(t)}
	case int:
		return Value{Kind: KindNumber, Num: float64(t)}
	case int8:
		return Value{Kind: KindNumber, Num: float64(t)}
	case int16:
		return Value{Kind: KindNumber, Num: float64(t)}
	case int32:
		return Value{Kind: KindNumber, Num: float64(t)}
	case int64:
		return Value{Kind: KindNumber, Num: float64(t)}
	case uint:
		return Value{Kind: KindNumber, Num: float64(t)}
	case uint8:
		return Value{Kind: KindNumber, Num: float64(t)}
	case uint16:
		return Value{Kind: KindNumber, Num: float64(t)}
	case uint32:
		return Value{Kind: KindNumber, Num: float64(t)}
	case uint64:
		return Value{Kind: KindNumber, Num: float64(t)}
	default:
		return Value{Kind: KindOpaque, Str: fmt.Sprintf("%v", raw)}
	}
}

// String renders the payload as text regardless of kind.
func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return ""
	case KindString, KindOpaque:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}
