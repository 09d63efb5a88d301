package variant

import (
	"encoding/json"
	"fmt"
)

// wireValue is the JSON document shape used by the file storage provider.
type wireValue struct {
	Type    string          `json:"type"`
	String  *string         `json:"string,omitempty"`
	Bool    *bool           `json:"bool,omitempty"`
	Int     *int64          `json:"int,omitempty"`
	Uint    *uint64         `json:"uint,omitempty"`
	Strings []string        `json:"strings,omitempty"`
	Inner   json.RawMessage `json:"inner,omitempty"`
}

// MarshalJSON encodes the value with an explicit type tag so it round-trips
// without loss of kind information.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.kind.String()}
	switch v.kind {
	case KindInvalid:
	case KindString, KindObjectPath:
		w.String = &v.str
	case KindBool:
		w.Bool = &v.b
	case KindInt8, KindInt16, KindInt32, KindInt64:
		w.Int = &v.i
	case KindUint8, KindUint16, KindUint32, KindUint64:
		w.Uint = &v.u
	case KindStringList:
		w.Strings = v.list
		if w.Strings == nil {
			w.Strings = []string{}
		}
	case KindVariant:
		if v.idx != nil {
			inner, err := json.Marshal(*v.idx)
			if err != nil {
				return nil, err
			}
			w.Inner = inner
		}
	default:
		return nil, fmt.Errorf("cannot marshal %s", v.kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a type-tagged value document.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := KindInvalid
	for k, name := range kindNames {
		if name == w.Type {
			kind = k
			break
		}
	}
	out := Value{kind: kind}
	switch kind {
	case KindInvalid:
	case KindString, KindObjectPath:
		if w.String != nil {
			out.str = *w.String
		}
	case KindBool:
		if w.Bool != nil {
			out.b = *w.Bool
		}
	case KindInt8, KindInt16, KindInt32, KindInt64:
		if w.Int != nil {
			out.i = *w.Int
		}
	case KindUint8, KindUint16, KindUint32, KindUint64:
		if w.Uint != nil {
			out.u = *w.Uint
		}
	case KindStringList:
		out.list = w.Strings
	case KindVariant:
		if len(w.Inner) > 0 {
			var inner Value
			if err := json.Unmarshal(w.Inner, &inner); err != nil {
				return err
			}
			out.idx = &inner
		}
	default:
		return fmt.Errorf("cannot unmarshal value type %q", w.Type)
	}
	*v = out
	return nil
}
