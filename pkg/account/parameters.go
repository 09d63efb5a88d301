package account

import (
	"fmt"
	"sort"

	"github.com/haldis/accountd/pkg/variant"
)

// Protocol returns the resolved protocol descriptor, nil until the setup
// protocol has resolved the manager.
func (a *Account) Protocol() *Protocol {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.protocol
}

// resolveProtocol returns the protocol descriptor, looking it up on demand
// when setup has not resolved it yet.
func (a *Account) resolveProtocol() (*Protocol, error) {
	a.mu.Lock()
	proto := a.protocol
	mgr := a.manager
	managerName := a.managerName
	protocolName := a.protocolName
	a.mu.Unlock()

	if proto != nil {
		return proto, nil
	}
	if mgr == nil {
		found, ok := a.managers.LookupManager(managerName)
		if !ok {
			return nil, fmt.Errorf("%w: manager %q", ErrNotFound, managerName)
		}
		mgr = found
	}
	proto, ok := mgr.Protocol(protocolName)
	if !ok {
		return nil, fmt.Errorf("%w: protocol %q", ErrNotFound, protocolName)
	}

	a.mu.Lock()
	a.manager = mgr
	a.protocol = proto
	a.mu.Unlock()
	return proto, nil
}

// GetParameter returns the stored value of a declared parameter, coerced
// to its declared type.
func (a *Account) GetParameter(name string) (variant.Value, error) {
	proto, err := a.resolveProtocol()
	if err != nil {
		return variant.Value{}, err
	}
	spec, ok := proto.Param(name)
	if !ok {
		return variant.Value{}, fmt.Errorf("%w: parameter %q is not declared by protocol %s", ErrNotFound, name, proto.Name)
	}

	stored, ok := a.store.Get(a.uniqueName, paramPrefix+name)
	if !ok {
		return variant.Value{}, fmt.Errorf("%w: parameter %q has no stored value", ErrGetParameterFailed, name)
	}

	kind, err := variant.KindForSignature(spec.Signature)
	if err != nil {
		return variant.Value{}, fmt.Errorf("%w: parameter %q: %v", ErrGetParameterFailed, name, err)
	}
	coerced, err := variant.Coerce(stored, kind)
	if err != nil {
		return variant.Value{}, fmt.Errorf("%w: parameter %q: %v", ErrGetParameterFailed, name, err)
	}
	return coerced, nil
}

// SetParameter stores a typed parameter value, or unsets it when the value
// is the invalid zero value. The value's kind must match the declared
// parameter type.
func (a *Account) SetParameter(name string, value variant.Value) error {
	proto, err := a.resolveProtocol()
	if err != nil {
		return err
	}
	spec, ok := proto.Param(name)
	if !ok {
		return fmt.Errorf("%w: parameter %q is not declared by protocol %s", ErrNotFound, name, proto.Name)
	}

	if !value.IsValid() {
		a.store.Unset(a.uniqueName, paramPrefix+name)
		return nil
	}

	kind, err := variant.KindForSignature(spec.Signature)
	if err != nil {
		return fmt.Errorf("%w: parameter %q has unsupported type: %v", ErrInvalidArgument, name, err)
	}
	if value.Kind() != kind {
		coerced, err := variant.Coerce(value, kind)
		if err != nil {
			return fmt.Errorf("%w: parameter %q expects %s, got %s", ErrInvalidArgument, name, kind, value.TypeName())
		}
		value = coerced
	}

	a.store.Set(a.uniqueName, paramPrefix+name, value, spec.Secret)
	return nil
}

// UnsetParameter removes a parameter's stored value.
func (a *Account) UnsetParameter(name string) error {
	return a.SetParameter(name, variant.Value{})
}

// DupParameters returns the full current map of declared parameters that
// have stored values, each coerced to its declared type.
func (a *Account) DupParameters() map[string]variant.Value {
	proto, err := a.resolveProtocol()
	if err != nil {
		return map[string]variant.Value{}
	}

	params := make(map[string]variant.Value)
	for _, spec := range proto.Params {
		stored, ok := a.store.Get(a.uniqueName, paramPrefix+spec.Name)
		if !ok {
			continue
		}
		kind, err := variant.KindForSignature(spec.Signature)
		if err != nil {
			continue
		}
		coerced, err := variant.Coerce(stored, kind)
		if err != nil {
			a.logger.Warn().
				Str("param", spec.Name).
				Err(err).
				Msg("Stored parameter does not match its declared type")
			continue
		}
		params[spec.Name] = coerced
	}
	return params
}

func (a *Account) storedParamNamesLocked() []string {
	proto := a.protocol
	if proto == nil {
		return nil
	}
	var names []string
	for _, spec := range proto.Params {
		if _, ok := a.store.Get(a.uniqueName, paramPrefix+spec.Name); ok {
			names = append(names, spec.Name)
		}
	}
	sort.Strings(names)
	return names
}

// paramUpdate is one live-updatable parameter queued for a direct property
// push to the connection.
type paramUpdate struct {
	name  string
	value variant.Value
}

// SetParameters applies a bulk parameter update. Validation is
// all-or-nothing: any undeclared key or type mismatch aborts with no
// mutation. Once validation passes, each key is persisted independently;
// a later storage failure does not roll back earlier keys.
//
// The callback receives the names of parameters whose new values only take
// effect after a reconnection.
func (a *Account) SetParameters(set map[string]variant.Value, unset []string, cb func(deferred []string, err error)) {
	fail := func(err error) {
		if cb != nil {
			cb(nil, err)
		}
	}

	proto, err := a.resolveProtocol()
	if err != nil {
		fail(err)
		return
	}

	// Validate everything before mutating anything.
	setNames := make([]string, 0, len(set))
	for name := range set {
		setNames = append(setNames, name)
	}
	sort.Strings(setNames)

	for _, name := range setNames {
		spec, ok := proto.Param(name)
		if !ok {
			fail(fmt.Errorf("%w: parameter %q is not declared by protocol %s", ErrNotFound, name, proto.Name))
			return
		}
		kind, err := variant.KindForSignature(spec.Signature)
		if err != nil {
			fail(fmt.Errorf("%w: parameter %q has unsupported type: %v", ErrInvalidArgument, name, err))
			return
		}
		value := set[name]
		if value.Kind() != kind {
			if _, err := variant.Coerce(value, kind); err != nil {
				fail(fmt.Errorf("%w: parameter %q expects %s, got %s", ErrInvalidArgument, name, kind, value.TypeName()))
				return
			}
		}
	}
	for _, name := range unset {
		if _, ok := proto.Param(name); !ok {
			fail(fmt.Errorf("%w: parameter %q is not declared by protocol %s", ErrNotFound, name, proto.Name))
			return
		}
	}

	a.mu.Lock()
	connected := a.connStatus == StatusConnected
	conn := a.conn
	a.mu.Unlock()

	// Classify changed parameters while connected: live-updatable ones
	// are pushed directly, the rest need a reconnection.
	var deferred []string
	var updates []paramUpdate
	if connected {
		for _, name := range setNames {
			spec, _ := proto.Param(name)
			current, hasCurrent := a.store.Get(a.uniqueName, paramPrefix+name)
			if hasCurrent && variant.Equal(current, set[name]) {
				continue
			}
			if spec.LiveUpdatable {
				updates = append(updates, paramUpdate{name: name, value: set[name]})
			} else {
				deferred = append(deferred, name)
			}
		}
	}

	// Removal is pessimistically assumed to need a reconnection.
	for _, name := range unset {
		if _, ok := a.store.Get(a.uniqueName, paramPrefix+name); ok {
			deferred = append(deferred, name)
		}
	}

	// Commit point: apply every set and unset.
	for _, name := range setNames {
		if err := a.SetParameter(name, set[name]); err != nil {
			fail(err)
			return
		}
	}
	for _, name := range unset {
		if err := a.UnsetParameter(name); err != nil {
			fail(err)
			return
		}
	}
	if err := a.store.Commit(a.uniqueName); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to commit parameter update")
	}

	a.notify.changed(PropParameters, variant.StringList(func() []string {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.storedParamNamesLocked()
	}()))

	if connected && conn != nil {
		for _, u := range updates {
			conn.UpdateParameter(u.name, u.value)
		}
	}

	a.CheckValidity(nil)
	a.MaybeAutoconnect()

	if cb != nil {
		cb(deferred, nil)
	}
}
