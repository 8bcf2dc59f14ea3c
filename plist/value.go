// Package plist implements the tagged property maps used for identity gestalts
// and keychain items, plus their canonical DER encoding.
//
// Canonical rules:
//   - strings are NFC-normalised UTF-8 (normalised on construction)
//   - dates are UTC with second precision
//   - dictionary entries are encoded in ascending key order, without duplicates
//
// Decoding is strict: anything the encoder would not have produced is rejected.
package plist

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind tags a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindBool
	KindData
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindData:
		return "data"
	case KindDate:
		return "date"
	default:
		return "invalid"
	}
}

// Value is an immutable tagged scalar. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	num  int64
	flag bool
	data []byte
	date time.Time
}

func String(s string) Value { return Value{kind: KindString, str: norm.NFC.String(s)} }

func Int(n int64) Value { return Value{kind: KindInt, num: n} }

func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Data copies b.
func Data(b []byte) Value {
	return Value{kind: KindData, data: append([]byte{}, b...)}
}

// Date truncates t to whole seconds in UTC.
func Date(t time.Time) Value {
	return Value{kind: KindDate, date: t.UTC().Truncate(time.Second)}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsInt() (int64, bool)     { return v.num, v.kind == KindInt }
func (v Value) AsBool() (bool, bool)     { return v.flag, v.kind == KindBool }

func (v Value) AsData() ([]byte, bool) {
	if v.kind != KindData {
		return nil, false
	}
	return append([]byte{}, v.data...), true
}

func (v Value) AsDate() (time.Time, bool) { return v.date, v.kind == KindDate }

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindBool:
		return v.flag == o.flag
	case KindData:
		return bytes.Equal(v.data, o.data)
	case KindDate:
		return v.date.Equal(o.date)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindData:
		return fmt.Sprintf("<%x>", v.data)
	case KindDate:
		return v.date.Format(time.RFC3339)
	default:
		return "<invalid>"
	}
}
