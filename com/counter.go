package com

import "sync/atomic"

// Counter is a type-safe wrapper around a uint64 that is updated atomically.
type Counter struct {
	v uint64
}

// Add adds delta to the counter and returns the new value.
func (c *Counter) Add(delta uint64) uint64 {
	return atomic.AddUint64(&c.v, delta)
}

// Inc adds one to the counter and returns the new value.
func (c *Counter) Inc() uint64 {
	return c.Add(1)
}

// Val returns the counter's current value.
func (c *Counter) Val() uint64 {
	return atomic.LoadUint64(&c.v)
}

// Total is an alias for Val, provided for readability at call sites that track a running total.
func (c *Counter) Total() uint64 {
	return c.Val()
}

// Reset sets the counter back to zero and returns the value it had before the reset.
func (c *Counter) Reset() uint64 {
	return atomic.SwapUint64(&c.v, 0)
}
