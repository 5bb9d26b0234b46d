// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"sync"
	"sync/atomic"
)

// Buffer holds one received frame. It has exactly one owner at a time: the
// transport reading into it, then the dispatcher handling it. The owner ends
// its ownership by calling Release, returning the bytes to the pool, or
// Detach, taking the bytes out of pooling altogether.
//
// Each Release or Detach advances the Buffer's generation, which invalidates
// all Views decoded before.
type Buffer struct {
	b    []byte
	gen  atomic.Uint64
	pool *BufferPool
}

// WrapBuffer creates an unpooled Buffer around an existing frame.
func WrapBuffer(frame []byte) *Buffer {
	return &Buffer{b: frame}
}

// Bytes of the current frame.
func (buf *Buffer) Bytes() []byte {
	return buf.b
}

// Len of the current frame.
func (buf *Buffer) Len() int {
	return len(buf.b)
}

func (buf *Buffer) generation() uint64 {
	return buf.gen.Load()
}

// Release ends the ownership and returns the memory to its pool, if any.
func (buf *Buffer) Release() {
	buf.gen.Add(1)

	if buf.pool != nil {
		buf.pool.put(buf)
	} else {
		buf.b = nil
	}
}

// Detach transfers the frame's bytes to the caller. The Buffer itself is
// returned to its pool without its memory.
func (buf *Buffer) Detach() []byte {
	b := buf.b
	buf.b = nil
	buf.gen.Add(1)

	if buf.pool != nil {
		buf.pool.put(buf)
	}
	return b
}

// BufferPool recycles receive Buffers. Buffers larger than the retain limit
// are not kept, so a single huge frame does not pin its memory forever.
type BufferPool struct {
	pool      sync.Pool
	maxRetain int
}

// DefaultMaxRetain is the default capacity limit for pooled Buffers.
const DefaultMaxRetain = 1 << 20

// NewBufferPool creates a BufferPool keeping Buffers up to maxRetain bytes.
func NewBufferPool(maxRetain int) *BufferPool {
	if maxRetain <= 0 {
		maxRetain = DefaultMaxRetain
	}

	bp := &BufferPool{maxRetain: maxRetain}
	bp.pool.New = func() interface{} {
		return &Buffer{pool: bp}
	}
	return bp
}

// Get a Buffer with a frame of exactly n bytes.
func (bp *BufferPool) Get(n int) *Buffer {
	buf := bp.pool.Get().(*Buffer)
	if cap(buf.b) < n {
		buf.b = make([]byte, n)
	} else {
		buf.b = buf.b[:n]
	}
	return buf
}

func (bp *BufferPool) put(buf *Buffer) {
	if cap(buf.b) > bp.maxRetain {
		buf.b = nil
	}
	bp.pool.Put(buf)
}
