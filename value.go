package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Value is the result of a tool or resource handler: a piece of text, a number or a boolean.
// It stays typed until it is written to the wire, where String renders it as text. The zero
// Value carries nothing and is treated as a handler failure.
type Value struct {
	kind valueKind
	text string
	num  float64
	b    bool
}

// Arguments holds the decoded "arguments" object of a tools/call request. JSON numbers are
// kept as json.Number so integers survive without float rounding.
type Arguments map[string]any

type valueKind uint8

const (
	valueNone valueKind = iota
	valueText
	valueNumber
	valueBool
)

var (
	// ErrNoValue is reported when a handler returns the zero Value without an error.
	ErrNoValue = errors.New("handler returned no value")

	errArgumentMissing = errors.New("argument missing")
)

// Text returns a text Value.
func Text(s string) Value {
	return Value{kind: valueText, text: s}
}

// Textf returns a text Value built with fmt.Sprintf.
func Textf(format string, a ...any) Value {
	return Text(fmt.Sprintf(format, a...))
}

// Number returns a numeric Value.
func Number(f float64) Value {
	return Value{kind: valueNumber, num: f}
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	return Value{kind: valueBool, b: b}
}

// IsZero reports whether v carries no value.
func (v Value) IsZero() bool {
	return v.kind == valueNone
}

// String renders the value as it is sent to the client. Integral numbers print without a
// fractional part.
func (v Value) String() string {
	switch v.kind {
	case valueText:
		return v.text
	case valueNumber:
		if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
			return strconv.FormatFloat(v.num, 'g', -1, 64)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case valueBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// MarshalJSON writes the value with its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case valueText:
		return json.Marshal(v.text)
	case valueNumber:
		if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.num)
	case valueBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// String returns the named argument as a string. Numbers and booleans are formatted.
func (a Arguments) String(name string) (string, error) {
	raw, ok := a[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errArgumentMissing, name)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Float returns the named argument as a float64. Numeric strings are accepted.
func (a Arguments) Float(name string) (float64, error) {
	raw, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errArgumentMissing, name)
	}
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %s is not a number: %w", name, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("argument %s is not a number", name)
	}
}

// Int returns the named argument as an int64. Fractional numbers are rejected.
func (a Arguments) Int(name string) (int64, error) {
	f, err := a.Float(name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("argument %s is not an integer: %v", name, f)
	}
	return int64(f), nil
}

// Bool returns the named argument as a bool. The strings "true" and "false" are accepted.
func (a Arguments) Bool(name string) (bool, error) {
	raw, ok := a[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", errArgumentMissing, name)
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("argument %s is not a boolean: %w", name, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("argument %s is not a boolean", name)
	}
}

// Has reports whether the named argument was supplied.
func (a Arguments) Has(name string) bool {
	_, ok := a[name]
	return ok
}
