// Package optional provides a typed optional value for update commands, so an unset
// field and a field explicitly set to its zero value stay distinguishable.
package optional

import (
	"bytes"
	"encoding/json"
)

type Option[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Option[T] {
	return Option[T]{value: v, set: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the value and whether it was set.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Option[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value, or def when unset.
func (o Option[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when unset.
func (o Option[T]) Ptr() *T {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

// FromPtr lifts a nullable pointer into an Option.
func FromPtr[T any](p *T) Option[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// UnmarshalJSON marks the option as set whenever the key is present with a non-null value.
func (o *Option[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
