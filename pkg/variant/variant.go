package variant

import (
	"fmt"
	"strings"
)

// Kind identifies the concrete type carried by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindObjectPath
	KindStringList
	KindVariant
)

var kindNames = map[Kind]string{
	KindInvalid:    "invalid",
	KindString:     "string",
	KindBool:       "bool",
	KindInt8:       "int8",
	KindInt16:      "int16",
	KindInt32:      "int32",
	KindInt64:      "int64",
	KindUint8:      "uint8",
	KindUint16:     "uint16",
	KindUint32:     "uint32",
	KindUint64:     "uint64",
	KindObjectPath: "objectpath",
	KindStringList: "stringlist",
	KindVariant:    "variant",
}

// String returns the type name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a closed tagged union used for account parameters, presence
// tuples and client filter predicates.
type Value struct {
	kind Kind
	str  string
	b    bool
	i    int64
	u    uint64
	list []string
	idx  *Value
}

// Kind returns the kind tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value carries a concrete type.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// TypeName returns the human-readable type name, used in validation errors.
func (v Value) TypeName() string { return v.kind.String() }

// Constructors.

func String(s string) Value     { return Value{kind: KindString, str: s} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Int8(i int8) Value         { return Value{kind: KindInt8, i: int64(i)} }
func Int16(i int16) Value       { return Value{kind: KindInt16, i: int64(i)} }
func Int32(i int32) Value       { return Value{kind: KindInt32, i: int64(i)} }
func Int64(i int64) Value       { return Value{kind: KindInt64, i: i} }
func Uint8(u uint8) Value       { return Value{kind: KindUint8, u: uint64(u)} }
func Uint16(u uint16) Value     { return Value{kind: KindUint16, u: uint64(u)} }
func Uint32(u uint32) Value     { return Value{kind: KindUint32, u: uint64(u)} }
func Uint64(u uint64) Value     { return Value{kind: KindUint64, u: u} }
func ObjectPath(p string) Value { return Value{kind: KindObjectPath, str: p} }

// StringList copies the slice so later mutation of the argument does not
// leak into the value.
func StringList(items []string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindStringList, list: cp}
}

// Boxed wraps another value in a nested variant.
func Boxed(inner Value) Value {
	return Value{kind: KindVariant, idx: &inner}
}

// Accessors. Each returns the zero value when the kind does not match.

func (v Value) Str() string {
	if v.kind == KindString || v.kind == KindObjectPath {
		return v.str
	}
	return ""
}

func (v Value) Boolean() bool {
	if v.kind == KindBool {
		return v.b
	}
	return false
}

// Int returns the signed integer payload of any signed integer kind.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return v.i
	}
	return 0
}

// Uint returns the unsigned integer payload of any unsigned integer kind.
func (v Value) Uint() uint64 {
	switch v.kind {
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return v.u
	}
	return 0
}

// Strings returns a copy of the string-list payload.
func (v Value) Strings() []string {
	if v.kind != KindStringList {
		return nil
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp
}

// Unbox returns the inner value of a nested variant.
func (v Value) Unbox() (Value, bool) {
	if v.kind != KindVariant || v.idx == nil {
		return Value{}, false
	}
	return *v.idx, true
}

// Equal reports typed equality between two values. Kinds must match
// exactly. String lists compare elementwise up to the first position where
// either side has no element; a missing element on either side ends the
// comparison as equal, so a shorter list that is a prefix of a longer one
// still matches.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInvalid:
		return true
	case KindString, KindObjectPath:
		return a.str == b.str
	case KindBool:
		return a.b == b.b
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return a.i == b.i
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return a.u == b.u
	case KindStringList:
		for i := 0; i < len(a.list) && i < len(b.list); i++ {
			if a.list[i] != b.list[i] {
				return false
			}
		}
		return true
	case KindVariant:
		ai, aok := a.Unbox()
		bi, bok := b.Unbox()
		if aok != bok {
			return false
		}
		if !aok {
			return true
		}
		return Equal(ai, bi)
	}
	return false
}

// String renders the value for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindObjectPath:
		return v.str
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return fmt.Sprintf("%d", v.u)
	case KindStringList:
		return "[" + strings.Join(v.list, ", ") + "]"
	case KindVariant:
		if inner, ok := v.Unbox(); ok {
			return "variant(" + inner.String() + ")"
		}
		return "variant()"
	}
	return "<invalid>"
}
