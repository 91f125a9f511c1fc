package cache

// Entry is the result of a cache lookup: either a miss or a hit carrying a
// value. A hit may carry a zero or nil value, which is distinct from a miss.
type Entry[T any] struct {
	value T
	hit   bool
}

// Hit returns a hit carrying v.
func Hit[T any](v T) Entry[T] {
	return Entry[T]{value: v, hit: true}
}

// Miss returns an empty result.
func Miss[T any]() Entry[T] {
	return Entry[T]{}
}

// Hit reports whether the lookup found an entry.
func (e Entry[T]) Hit() bool {
	return e.hit
}

// Value returns the cached value, or the zero value on a miss.
func (e Entry[T]) Value() T {
	return e.value
}

// Get returns the value and whether the lookup was a hit.
func (e Entry[T]) Get() (T, bool) {
	return e.value, e.hit
}
