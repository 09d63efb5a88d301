package variant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// KindForSignature maps a wire signature to the value kind used to store
// parameters of that type. Only the signatures that appear in protocol
// descriptors and client filter files are supported.
func KindForSignature(sig string) (Kind, error) {
	switch sig {
	case "s":
		return KindString, nil
	case "o":
		return KindObjectPath, nil
	case "b":
		return KindBool, nil
	case "y":
		return KindUint8, nil
	case "q":
		return KindUint16, nil
	case "u":
		return KindUint32, nil
	case "t":
		return KindUint64, nil
	case "n":
		return KindInt16, nil
	case "i":
		return KindInt32, nil
	case "x":
		return KindInt64, nil
	case "as":
		return KindStringList, nil
	}
	return KindInvalid, fmt.Errorf("unsupported signature %q", sig)
}

// ParseSignature decodes a textual value according to a one-letter filter
// signature, the format used by client descriptor files. The integer
// letters collapse to 64-bit storage: q/u/t parse as unsigned, y/n/i/x as
// signed. Leading and trailing whitespace is tolerated.
func ParseSignature(sig byte, text string) (Value, error) {
	text = strings.TrimSpace(text)
	switch sig {
	case 's':
		return String(text), nil
	case 'o':
		return ObjectPath(text), nil
	case 'b':
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid boolean %q: %w", text, err)
		}
		return Bool(b), nil
	case 'q', 'u', 't':
		u, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid unsigned integer %q: %w", text, err)
		}
		return Uint64(u), nil
	case 'y', 'n', 'i', 'x':
		i, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer %q: %w", text, err)
		}
		return Int64(i), nil
	}
	return Value{}, fmt.Errorf("unsupported filter signature %q", string(sig))
}

// Coerce converts a value to the given kind when the payload is
// representable, used when a stored parameter is read back under its
// declared protocol type. Conversions never change the payload class:
// integers convert between widths of the same signedness only, and a
// narrowing conversion requires the payload to fit the target width.
func Coerce(v Value, kind Kind) (Value, error) {
	if v.kind == kind {
		return v, nil
	}
	switch kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		switch v.kind {
		case KindInt8, KindInt16, KindInt32, KindInt64:
			if !intFits(v.i, kind) {
				return Value{}, fmt.Errorf("%d does not fit %s", v.i, kind)
			}
			return Value{kind: kind, i: v.i}, nil
		}
	case KindUint8, KindUint16, KindUint32, KindUint64:
		switch v.kind {
		case KindUint8, KindUint16, KindUint32, KindUint64:
			if !uintFits(v.u, kind) {
				return Value{}, fmt.Errorf("%d does not fit %s", v.u, kind)
			}
			return Value{kind: kind, u: v.u}, nil
		}
	case KindString:
		if v.kind == KindObjectPath {
			return String(v.str), nil
		}
	case KindObjectPath:
		if v.kind == KindString {
			return ObjectPath(v.str), nil
		}
	}
	return Value{}, fmt.Errorf("cannot represent %s as %s", v.TypeName(), kind)
}

func intFits(i int64, kind Kind) bool {
	switch kind {
	case KindInt8:
		return i >= math.MinInt8 && i <= math.MaxInt8
	case KindInt16:
		return i >= math.MinInt16 && i <= math.MaxInt16
	case KindInt32:
		return i >= math.MinInt32 && i <= math.MaxInt32
	}
	return true
}

func uintFits(u uint64, kind Kind) bool {
	switch kind {
	case KindUint8:
		return u <= math.MaxUint8
	case KindUint16:
		return u <= math.MaxUint16
	case KindUint32:
		return u <= math.MaxUint32
	}
	return true
}
