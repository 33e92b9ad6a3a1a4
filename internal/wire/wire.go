// Package wire encodes the module's persisted and transported records in the
// protobuf wire format. Records are hand-described, so field numbers live
// next to the types that own them.
package wire

import (
	"errors"
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrMalformed = errors.New("malformed record")
	ErrWrongType = errors.New("unexpected wire type")
)

type Encoder struct {
	buf []byte
}

// Uint writes a varint field. Zero values are omitted.
func (e *Encoder) Uint(num protowire.Number, v uint64) *Encoder {
	if v == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

// Required writes a varint field even when it is zero.
func (e *Encoder) Required(num protowire.Number, v uint64) *Encoder {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

func (e *Encoder) Bool(num protowire.Number, v bool) *Encoder {
	if !v {
		return e
	}
	return e.Uint(num, 1)
}

func (e *Encoder) Int(num protowire.Number, v int64) *Encoder {
	if v == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
	return e
}

// Bytes writes a length-delimited field. Empty values are omitted, which is
// how optional keys are told apart from present ones.
func (e *Encoder) Bytes(num protowire.Number, v []byte) *Encoder {
	if len(v) == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
	return e
}

func (e *Encoder) String(num protowire.Number, v string) *Encoder {
	return e.Bytes(num, []byte(v))
}

// Repeated writes every element as its own length-delimited field, keeping
// empty elements.
func (e *Encoder) Repeated(num protowire.Number, vs [][]byte) *Encoder {
	for _, v := range vs {
		e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
		e.buf = protowire.AppendBytes(e.buf, v)
	}
	return e
}

func (e *Encoder) Encode() []byte {
	return e.buf
}

type Field struct {
	typ protowire.Type
	v   uint64
	b   []byte
}

func (f Field) Uint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, ErrWrongType
	}
	return f.v, nil
}

func (f Field) Uint32() (uint32, error) {
	v, err := f.Uint()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, fmt.Errorf("%w: value overflows uint32", ErrMalformed)
	}
	return uint32(v), nil
}

func (f Field) Int() (int64, error) {
	v, err := f.Uint()
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(v), nil
}

func (f Field) Bool() (bool, error) {
	v, err := f.Uint()
	return v != 0, err
}

// Bytes returns a copy of the field's payload.
func (f Field) Bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, ErrWrongType
	}
	return slices.Clone(f.b), nil
}

// Fixed copies a length-delimited field into dst, which must match its size.
func (f Field) Fixed(dst []byte) error {
	if f.typ != protowire.BytesType {
		return ErrWrongType
	}
	if len(f.b) != len(dst) {
		return fmt.Errorf(
			"%w: want %d bytes, got %d", ErrMalformed, len(dst), len(f.b),
		)
	}
	copy(dst, f.b)
	return nil
}

// Decode walks every field of b in order. Unknown fields are passed to fn as
// well; callers ignore the ones they do not know.
func Decode(b []byte, fn func(num protowire.Number, f Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var f Field
		f.typ = typ
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, f); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}
