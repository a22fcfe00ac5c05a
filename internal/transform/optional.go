package transform

// Optional is the result of parsing a best-effort field: either a parsed
// value or absent. A field that is missing and a field that failed to parse
// are both absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a parsed value
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it was parsed
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// OrElse returns the parsed value or def when absent
func (o Optional[T]) OrElse(def T) T {
	if o.ok {
		return o.value
	}
	return def
}
