// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seqnum defines the types for TCP sequence numbers and sizes, and
// provides a few operations on them.
package seqnum

// Value represents the value of a sequence number.
type Value uint32

// Size represents the size of a sequence number window.
type Size uint32

// SizeFromLen converts a given length to a Size.
func SizeFromLen(len int) Size {
	return Size(len)
}

// Len returns the length that represents this Size.
func (s Size) Len() int {
	return int(s)
}

// WindowSize returns the window size which is calculated using the given
// scale, with a maximum of 0xffff.
func (s Size) WindowSize(scale uint8) Size {
	mask := Size(1)<<scale - 1
	w := (s + mask) >> scale
	if w > 0xffff {
		return 0xffff
	}
	return w
}

// Add calculates the value resulting from adding the given delta to this
// sequence value.
func (v Value) Add(s Size) Value {
	return v + Value(s)
}

// Size calculates the size of the window defined by [v, v2).
func (v Value) Size(v2 Value) Size {
	return Size(v2 - v)
}

// LessThan checks if v is before i2 in sequence number order.
func (v Value) LessThan(i2 Value) bool {
	return int32(v-i2) < 0
}

// LessThanEq returns true if v==i2 or v is before i2 in sequence number
// order.
func (v Value) LessThanEq(i2 Value) bool {
	if v == i2 {
		return true
	}
	return v.LessThan(i2)
}

// InWindow checks if v is in the window that starts at 'first' and spans
// 'size' sequence numbers.
func (v Value) InWindow(first Value, size Size) bool {
	// We get the offset of v relative to first, which will wrap around if
	// v is before first in sequence number space. If this value is less
	// than the window size it means that v is within the window.
	return first.Size(v) < size
}

// UpdateForward updates the value to v + s.
func (v *Value) UpdateForward(s Size) {
	*v += Value(s)
}
