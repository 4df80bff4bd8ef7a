package domain

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// DateLayout is the textual format used for date values on the wire and on
// the command line.
const DateLayout = time.RFC3339

// Kind names the active tag of a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindDate
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindDate:   "date",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// KindFromTag maps a wire tag back to its Kind.
func KindFromTag(tag string) (Kind, bool) {
	for k, name := range kindNames {
		if name == tag {
			return k, true
		}
	}
	return 0, false
}

// Value is a single preference value. Construct it with String, Int, Float,
// Bool or Date; the zero Value is invalid and refuses to encode.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date stores t in UTC truncated to whole seconds, the precision of DateLayout.
func Date(t time.Time) Value {
	return Value{kind: KindDate, t: t.UTC().Truncate(time.Second)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) FloatValue() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) DateValue() (time.Time, bool) {
	return v.t, v.kind == KindDate
}

// Equal reports whether both values carry the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	}
	return true
}

// Text renders the payload the way the defaults tool expects it.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "TRUE"
		}
		return "FALSE"
	case KindDate:
		return v.t.Format(DateLayout)
	}
	return ""
}

func (v Value) GoString() string {
	return fmt.Sprintf("domain.Value{%s: %q}", v.kind, v.Text())
}

// MarshalJSON encodes v as a single-key object named after its tag.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload []byte
	switch v.kind {
	case KindString:
		b, err := sonic.ConfigStd.Marshal(v.s)
		if err != nil {
			return nil, err
		}
		payload = b
	case KindInt:
		payload = strconv.AppendInt(nil, v.i, 10)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, &DecodeError{Tag: KindFloat.String(), Reason: "value is not representable in JSON"}
		}
		payload = strconv.AppendFloat(nil, v.f, 'g', -1, 64)
	case KindBool:
		payload = strconv.AppendBool(nil, v.b)
	case KindDate:
		payload = strconv.AppendQuote(nil, v.t.Format(DateLayout))
	default:
		return nil, &DecodeError{Reason: "value has no tag"}
	}

	buf := make([]byte, 0, len(payload)+12)
	buf = append(buf, '{')
	buf = strconv.AppendQuote(buf, v.kind.String())
	buf = append(buf, ':')
	buf = append(buf, payload...)
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON decodes the single-key tagged form. Errors are *DecodeError.
func (v *Value) UnmarshalJSON(data []byte) error {
	var fields map[string]sonic.NoCopyRawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &fields); err != nil {
		return &DecodeError{Reason: "expected a tagged object", Err: err}
	}
	if len(fields) != 1 {
		return &DecodeError{Reason: fmt.Sprintf("expected exactly one tag, got %d", len(fields))}
	}
	for tag, raw := range fields {
		kind, ok := KindFromTag(tag)
		if !ok {
			return &DecodeError{Tag: tag, Reason: "unknown tag"}
		}
		decoded, err := decodePayload(kind, bytes.TrimSpace(raw))
		if err != nil {
			return err
		}
		*v = decoded
	}
	return nil
}

func decodePayload(kind Kind, raw []byte) (Value, error) {
	tag := kind.String()
	switch kind {
	case KindString, KindDate:
		if len(raw) == 0 || raw[0] != '"' {
			return Value{}, &DecodeError{Tag: tag, Reason: "expected a JSON string"}
		}
		var s string
		if err := sonic.ConfigStd.Unmarshal(raw, &s); err != nil {
			return Value{}, &DecodeError{Tag: tag, Reason: "invalid JSON string", Err: err}
		}
		if kind == KindString {
			return String(s), nil
		}
		return ParseValue(kind, s)
	case KindBool:
		switch string(raw) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, &DecodeError{Tag: tag, Reason: "expected true or false"}
	case KindInt, KindFloat:
		if len(raw) == 0 || raw[0] == '"' {
			return Value{}, &DecodeError{Tag: tag, Reason: "expected a JSON number"}
		}
		return ParseValue(kind, string(raw))
	}
	return Value{}, &DecodeError{Tag: tag, Reason: "unknown tag"}
}

// ParseValue builds a Value of the given kind from its textual form. Booleans
// accept true/false in any case as well as YES/NO and 1/0.
func ParseValue(kind Kind, text string) (Value, error) {
	tag := kind.String()
	switch kind {
	case KindString:
		return String(text), nil
	case KindInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, &DecodeError{Tag: tag, Reason: fmt.Sprintf("%q is not an integer", text), Err: err}
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, &DecodeError{Tag: tag, Reason: fmt.Sprintf("%q is not a finite number", text), Err: err}
		}
		return Float(f), nil
	case KindBool:
		switch text {
		case "true", "TRUE", "True", "YES", "yes", "1":
			return Bool(true), nil
		case "false", "FALSE", "False", "NO", "no", "0":
			return Bool(false), nil
		}
		return Value{}, &DecodeError{Tag: tag, Reason: fmt.Sprintf("%q is not a boolean", text)}
	case KindDate:
		t, err := time.Parse(DateLayout, text)
		if err != nil {
			return Value{}, &DecodeError{Tag: tag, Reason: fmt.Sprintf("%q is not an RFC 3339 timestamp", text), Err: err}
		}
		return Date(t), nil
	}
	return Value{}, &DecodeError{Tag: tag, Reason: "unknown tag"}
}

// DecodeError reports a malformed preference value.
type DecodeError struct {
	Tag    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Tag == "" {
		return "decode value: " + e.Reason
	}
	return "decode " + e.Tag + " value: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }
