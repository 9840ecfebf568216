// Package leb128 implements the variable-length integer encoding used
// throughout the WebAssembly binary format.
package leb128

import (
	"errors"
	"fmt"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen33 = 5
	maxVarintLen64 = 10
)

var errOverflow32 = errors.New("overflows a 32-bit integer")
var errOverflow33 = errors.New("overflows a 33-bit integer")
var errOverflow64 = errors.New("overflows a 64-bit integer")

// EncodeUint32 encodes the value into a buffer in unsigned LEB128 format.
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in unsigned LEB128 format.
func EncodeUint64(value uint64) (buf []byte) {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if value == 0 {
			return
		}
	}
}

// EncodeInt32 encodes the signed value into a buffer in signed LEB128 format.
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in signed LEB128 format.
func EncodeInt64(value int64) (buf []byte) {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if (value == 0 && b&0x40 == 0) || (value == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// DecodeUint32 decodes an unsigned 32-bit integer, returning it with the
// number of bytes consumed.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	var shift int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		bytesRead++
		// The final byte of a 5-byte encoding only has room for bits 28..31.
		if bytesRead == maxVarintLen32 && b&0xf0 != 0 {
			return 0, 0, errOverflow32
		}
		ret |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, bytesRead, nil
		}
		shift += 7
		if bytesRead == maxVarintLen32 {
			return 0, 0, errOverflow32
		}
	}
}

// DecodeUint64 decodes an unsigned 64-bit integer, returning it with the
// number of bytes consumed.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	var shift int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		bytesRead++
		// The final byte of a 10-byte encoding only has room for bit 63.
		if bytesRead == maxVarintLen64 && b&0xfe != 0 {
			return 0, 0, errOverflow64
		}
		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, bytesRead, nil
		}
		shift += 7
		if bytesRead == maxVarintLen64 {
			return 0, 0, errOverflow64
		}
	}
}

// DecodeInt32 decodes a signed 32-bit integer, returning it with the number
// of bytes consumed.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		bytesRead++
		if bytesRead == maxVarintLen32 {
			// Bits 32..34 of the final byte must agree with the sign bit 31.
			if b&0x80 != 0 {
				return 0, 0, errOverflow32
			}
			if sign := b & 0x08; (sign != 0 && b&0x70 != 0x70) || (sign == 0 && b&0x70 != 0) {
				return 0, 0, errOverflow32
			}
		}
		ret |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if bytesRead == maxVarintLen32 {
			return 0, 0, errOverflow32
		}
	}
	if shift < 32 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}

// DecodeInt33AsInt64 decodes a signed 33-bit integer (the encoding used for
// block types), widening it to 64 bits.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		bytesRead++
		if bytesRead == maxVarintLen33 && b&0x80 != 0 {
			return 0, 0, errOverflow33
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 33 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}

// DecodeInt64 decodes a signed 64-bit integer, returning it with the number
// of bytes consumed.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		bytesRead++
		if bytesRead == maxVarintLen64 {
			// Bits 64..69 of the final byte must agree with the sign bit 63.
			if b&0x80 != 0 {
				return 0, 0, errOverflow64
			}
			if sign := b & 0x01; (sign != 0 && b&0x7e != 0x7e) || (sign == 0 && b&0x7e != 0) {
				return 0, 0, errOverflow64
			}
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if bytesRead == maxVarintLen64 {
			return 0, 0, errOverflow64
		}
	}
	if shift < 64 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}
