package client

import (
	"github.com/haldis/accountd/pkg/variant"
)

// Role names the three dispatcher-facing duties a client may declare.
type Role int

const (
	RoleApprover Role = iota
	RoleObserver
	RoleHandler
)

func (r Role) String() string {
	switch r {
	case RoleApprover:
		return "approver"
	case RoleObserver:
		return "observer"
	case RoleHandler:
		return "handler"
	}
	return "unknown"
}

// Filter is one channel-matching predicate: a candidate matches when every
// entry compares equal under typed equality. The empty filter matches
// everything; an empty filter list routes nothing.
type Filter map[string]variant.Value

// Matches reports whether the candidate property map satisfies every entry
// of the filter.
func (f Filter) Matches(candidate map[string]variant.Value) bool {
	for name, want := range f {
		got, ok := candidate[name]
		if !ok {
			return false
		}
		if !variant.Equal(want, got) {
			return false
		}
	}
	return true
}

// Copy returns a detached copy of the filter.
func (f Filter) Copy() Filter {
	cp := make(Filter, len(f))
	for k, v := range f {
		cp[k] = v
	}
	return cp
}

func copyFilters(filters []Filter) []Filter {
	if len(filters) == 0 {
		return nil
	}
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		out = append(out, f.Copy())
	}
	return out
}

// normalizeFilter re-types a predicate pushed from a live source. Every
// value must land in the closed set {string, bool, object-path, uint64,
// int64}; any other kind poisons the whole predicate.
func normalizeFilter(f Filter) (Filter, bool) {
	out := make(Filter, len(f))
	for name, value := range f {
		switch value.Kind() {
		case variant.KindString, variant.KindBool, variant.KindObjectPath:
			out[name] = value
		case variant.KindUint8, variant.KindUint16, variant.KindUint32, variant.KindUint64:
			out[name] = variant.Uint64(value.Uint())
		case variant.KindInt8, variant.KindInt16, variant.KindInt32, variant.KindInt64:
			out[name] = variant.Int64(value.Int())
		default:
			return nil, false
		}
	}
	return out, true
}
