// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gf16 implements a field with characteristic 2^16 (GF(2^16)) on top of
// github.com/wbrc/gf65536. Elements are encoded as two big endian bytes.
package gf16

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field"
	"github.com/wbrc/gf65536"
)

const elementSize = 2

type element struct {
	f gf65536.Field
	v uint16
}

func (e element) Add(a field.Element) field.Element {
	return element{f: e.f, v: e.f.Add(e.v, a.(element).v)}
}

// Subtract is the same operation as Add in characteristic 2.
func (e element) Subtract(a field.Element) field.Element {
	return e.Add(a)
}

func (e element) Multiply(a field.Element) field.Element {
	return element{f: e.f, v: e.f.Mul(e.v, a.(element).v)}
}

// Inverse returns the multiplicative inverse, or an error for 0.
func (e element) Inverse() (field.Element, error) {
	if e.v == 0 {
		return nil, fmt.Errorf("inverse of zero is not defined")
	}
	return element{f: e.f, v: e.f.Inv(e.v)}, nil
}

func (e element) IsZero() bool {
	return e.v == 0
}

func (e element) Bytes() []byte {
	return binary.BigEndian.AppendUint16(nil, e.v)
}

type gf16Field struct {
	f gf65536.Field
}

// New creates a new GF(2^16) using the default reduction polynomial of gf65536.
func New() field.GaloisField { return &gf16Field{f: gf65536.Default} }

var _ field.GaloisField = (*gf16Field)(nil)

func (g *gf16Field) CreateElement(i int) (field.Element, error) {
	if i < 0 || i >= g.Order() {
		return nil, fmt.Errorf("field element %d out of range [0, %d)", i, g.Order())
	}
	return element{f: g.f, v: uint16(i)}, nil
}

func (g *gf16Field) NewRandom(r io.Reader) (field.Element, error) {
	var b [elementSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("reading random element: %v", err)
	}
	return element{f: g.f, v: binary.BigEndian.Uint16(b[:])}, nil
}

func (g *gf16Field) NewRandomNonZero(r io.Reader) (field.Element, error) {
	for {
		e, err := g.NewRandom(r)
		if err != nil {
			return nil, err
		}
		if !e.IsZero() {
			return e, nil
		}
	}
}

// ReadElement reads the i-th two byte element of b.
func (g *gf16Field) ReadElement(b []byte, i int) (field.Element, error) {
	off := i * elementSize
	if i < 0 || off+elementSize > len(b) {
		return nil, fmt.Errorf("element %d out of range for b (len = %d)", i, len(b))
	}
	return element{f: g.f, v: binary.BigEndian.Uint16(b[off:])}, nil
}

// EncodeElements writes parts big endian and truncates the result to secLen, dropping the zero
// padding added by DecodeElements for odd lengths.
func (g *gf16Field) EncodeElements(parts []field.Element, secLen int) ([]byte, error) {
	if field.EncodedLen(g, secLen) != len(parts)*elementSize {
		return nil, fmt.Errorf("can't encode elements (len = %d) into secret len (%d)", len(parts), secLen)
	}
	out := make([]byte, 0, len(parts)*elementSize)
	for _, e := range parts {
		out = binary.BigEndian.AppendUint16(out, e.(element).v)
	}
	if secLen%elementSize != 0 && out[len(out)-1] != 0 {
		return nil, fmt.Errorf("non-zero padding in final element")
	}
	return out[:secLen], nil
}

func (g *gf16Field) DecodeElements(in []byte) []field.Element {
	padded := make([]byte, field.EncodedLen(g, len(in)))
	copy(padded, in)
	elems := make([]field.Element, len(padded)/elementSize)
	for i := range elems {
		elems[i] = element{f: g.f, v: binary.BigEndian.Uint16(padded[i*elementSize:])}
	}
	return elems
}

func (g *gf16Field) ElementSize() int { return elementSize }

func (g *gf16Field) Order() int { return 1 << 16 }

func (g *gf16Field) FieldID() finitefield.ID {
	return finitefield.GF16
}
