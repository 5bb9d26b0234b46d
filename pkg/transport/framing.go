// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bufio"
	"io"

	"github.com/dtn7/cboring"

	"github.com/acctwire/acctwire-go/pkg/wire"
)

// DefaultMaxFrameSize limits a frame received by a stream backend, unless
// configured otherwise.
const DefaultMaxFrameSize = 64 << 20

// Frames on byte streams are prefixed by a CBOR byte string header, carrying
// the frame's length. A zero length header is a keepalive probe without any
// frame.

// WriteFrame writes a length-prefixed frame and flushes the writer.
func WriteFrame(w *bufio.Writer, frame []byte) error {
	if err := cboring.WriteByteStringLen(uint64(len(frame)), w); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.Flush()
}

// WriteKeepalive writes an empty length header.
func WriteKeepalive(w *bufio.Writer) error {
	if err := cboring.WriteByteStringLen(0, w); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads the next length-prefixed frame into a Buffer from the pool.
// Keepalive probes are skipped. A frame larger than maxSize is a protocol
// violation, reported as a *FrameSizeError.
func ReadFrame(r io.Reader, pool *wire.BufferPool, maxSize uint64) (*wire.Buffer, error) {
	for {
		n, err := cboring.ReadByteStringLen(r)
		if err != nil {
			return nil, err
		} else if n == 0 {
			continue
		} else if n > maxSize {
			return nil, &FrameSizeError{Size: n, Limit: maxSize}
		}

		buf := pool.Get(int(n))
		if _, err := io.ReadFull(r, buf.Bytes()); err != nil {
			buf.Release()
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return buf, nil
	}
}
