package namefilter

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync/atomic"
)

// Serialized layout, big-endian:
//
//	[u32 magic][u32 slot mask][u64 slot] x (mask+1)
const (
	fileMagic  uint32 = 0xDD094172
	headerSize        = 8
	slotSize          = 8
)

// WriteTo serializes the filter to w. Slots are written as they are at the
// time each one is read; concurrent adds may or may not be included.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)

	var header [headerSize]byte

	binary.BigEndian.PutUint32(header[0:4], fileMagic)
	binary.BigEndian.PutUint32(header[4:8], f.mask)

	written, err := bw.Write(header[:])
	if err != nil {
		return int64(written), fmt.Errorf("writing filter header: %w", err)
	}

	var slot [slotSize]byte

	for i := range f.slots {
		binary.BigEndian.PutUint64(slot[:], f.slots[i].Load())

		n, err := bw.Write(slot[:])
		written += n

		if err != nil {
			return int64(written), fmt.Errorf("writing filter slot %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return int64(written), fmt.Errorf("flushing filter: %w", err)
	}

	return int64(written), nil
}

// ReadFrom deserializes a filter written by [Filter.WriteTo].
//
// It fails with [ErrBadMagic] when the magic does not match, with
// [ErrCorrupt] when the slot mask is not a supported power-of-two mask, and
// with a wrapped [io.ErrUnexpectedEOF] when the input ends early.
func ReadFrom(r io.Reader) (*Filter, error) {
	br := bufio.NewReader(r)

	var header [headerSize]byte

	if _, err := io.ReadFull(br, header[:4]); err != nil {
		return nil, fmt.Errorf("reading filter magic: %w", unexpectedEOF(err))
	}

	if magic := binary.BigEndian.Uint32(header[0:4]); magic != fileMagic {
		return nil, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}

	if _, err := io.ReadFull(br, header[4:8]); err != nil {
		return nil, fmt.Errorf("reading filter mask: %w", unexpectedEOF(err))
	}

	mask := binary.BigEndian.Uint32(header[4:8])
	if !validMask(mask) {
		return nil, fmt.Errorf("%w: slot mask 0x%X", ErrCorrupt, mask)
	}

	f := &Filter{
		slots: make([]atomic.Uint64, int(mask)+1),
		mask:  mask,
	}

	var slot [slotSize]byte

	for i := range f.slots {
		if _, err := io.ReadFull(br, slot[:]); err != nil {
			return nil, fmt.Errorf("reading filter slot %d of %d: %w", i, len(f.slots), unexpectedEOF(err))
		}

		f.slots[i].Store(binary.BigEndian.Uint64(slot[:]))
	}

	return f, nil
}

// validMask accepts masks of the form 2^k-1 within the capacity bounds.
func validMask(mask uint32) bool {
	size := uint64(mask) + 1

	return bits.OnesCount64(size) == 1 && size >= MinCapacity && size <= MaxCapacity
}

// unexpectedEOF reports a clean EOF inside the format as truncation.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
