package types

// Zero returns the zero value of type T. It is mainly useful in generic code that needs to
// produce a typed zero value without naming the concrete type.
func Zero[T any]() T {
	var zero T
	return zero
}
