// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer provides the implementation of a buffer view.
//
// A view is a slice of a buffer, which in turn implements the interface
// required by protocol handlers for layered I/O: a view can be prepended
// to (for writing outer headers) and trimmed from the front (for parsing
// and discarding consumed headers) without copying the underlying bytes
// any more than necessary.
package buffer

// View is a slice of a buffer, with convenience methods.
type View []byte

// NewView allocates a new view with the given size.
func NewView(size int) View {
	return make(View, size)
}

// NewViewFromBytes allocates a new view containing a copy of the given
// bytes.
func NewViewFromBytes(b []byte) View {
	v := make(View, len(b))
	copy(v, b)
	return v
}

// TrimFront removes the first "count" bytes from the view.
func (v *View) TrimFront(count int) {
	*v = (*v)[count:]
}

// CapLength irreversibly reduces the length of the view.
func (v *View) CapLength(length int) {
	if length < 0 {
		panic("buffer.View.CapLength: negative length")
	}
	if length < len(*v) {
		*v = (*v)[:length]
	}
}

// ToVectorisedView transforms a View into a VectorisedView with a single
// view.
func (v View) ToVectorisedView() VectorisedView {
	return NewVectorisedView(len(v), []View{v})
}

// VectorisedView is a vectorised version of View, using non-contiguous
// memory. It is used to reduce copying when piecing together headers and
// payloads pulled from separate allocations.
type VectorisedView struct {
	views []View
	size  int
}

// NewVectorisedView creates a new VectorisedView from views.
func NewVectorisedView(size int, views []View) VectorisedView {
	return VectorisedView{views: views, size: size}
}

// TrimFront removes the first "count" bytes of the vectorised view.
func (vv *VectorisedView) TrimFront(count int) {
	for count > 0 && len(vv.views) > 0 {
		if count < len(vv.views[0]) {
			vv.size -= count
			vv.views[0].TrimFront(count)
			return
		}
		count -= len(vv.views[0])
		vv.RemoveFirst()
	}
}

// CapLength irreversibly reduces the length of the vectorised view.
func (vv *VectorisedView) CapLength(length int) {
	if length < 0 {
		length = 0
	}
	if length >= vv.size {
		return
	}
	vv.size = length
	for i := range vv.views {
		v := &vv.views[i]
		if length <= 0 {
			vv.views = vv.views[:i]
			return
		}
		if len(*v) > length {
			v.CapLength(length)
		}
		length -= len(*v)
	}
}

// Clone returns a semi-deep copy of the vectorised view; the backing slice
// of views is copied, the bytes they point at are not.
func (vv VectorisedView) Clone(buffer []View) VectorisedView {
	return VectorisedView{views: append(buffer[:0], vv.views...), size: vv.size}
}

// First returns the first view of the vectorised view, or nil if it is
// empty.
func (vv VectorisedView) First() View {
	if len(vv.views) == 0 {
		return nil
	}
	return vv.views[0]
}

// RemoveFirst removes the first view of the vectorised view.
func (vv *VectorisedView) RemoveFirst() {
	if len(vv.views) == 0 {
		return
	}
	vv.size -= len(vv.views[0])
	vv.views = vv.views[1:]
}

// Size returns the total size of the vectorised view.
func (vv VectorisedView) Size() int {
	return vv.size
}

// ToView returns a single View that holds all the bytes in the vectorised
// view, copying as needed.
func (vv VectorisedView) ToView() View {
	u := make([]byte, 0, vv.size)
	for _, v := range vv.views {
		u = append(u, v...)
	}
	return u
}

// Views returns the underlying views of the vectorised view.
func (vv VectorisedView) Views() []View {
	return vv.views
}

// Append appends the views in a second VectorisedView to this one.
func (vv *VectorisedView) Append(vv2 VectorisedView) {
	vv.views = append(vv.views, vv2.views...)
	vv.size += vv2.size
}

// Prependable is a buffer that grows backwards, used so that protocol
// headers can be written from the innermost layer outwards without knowing
// the combined header size up front.
type Prependable struct {
	// buf is the buffer backing the prependable view.
	buf []byte

	// usedIdx is the index where the used part of buf begins.
	usedIdx int
}

// NewPrependable allocates a new Prependable with size bytes.
func NewPrependable(size int) Prependable {
	return Prependable{buf: make([]byte, size), usedIdx: size}
}

// View returns the used part of the buffer.
func (p *Prependable) View() View {
	return View(p.buf[p.usedIdx:])
}

// UsedLength returns the number of bytes used so far.
func (p *Prependable) UsedLength() int {
	return len(p.buf) - p.usedIdx
}

// Prepend reserves the requested space in front of the buffer and returns a
// View representing it.
func (p *Prependable) Prepend(size int) View {
	if size > p.usedIdx {
		return nil
	}
	p.usedIdx -= size
	return View(p.buf[p.usedIdx : p.usedIdx+size])
}
