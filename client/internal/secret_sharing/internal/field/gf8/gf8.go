// Copyright 2021 Google LLC
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

// Package gf8 implements with a field with characteristic 2^8 (GF(2^8)), using the AES
// reduction polynomial.
package gf8

import (
	"fmt"
	"io"

	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field"
)

type element byte

// Add element `a` and returns a new element in GF(2^8).
func (e element) Add(a field.Element) field.Element {
	return e ^ a.(element)
}

// Subtract element `a` and returns a new element in GF(2^8). Addition and subtraction are
// both xor in characteristic 2.
func (e element) Subtract(a field.Element) field.Element {
	return e.Add(a)
}

// irreducible polynomial (x^8 + x^4 + x^3 + x + 1)
// (x^8 + x^4 + x^3 + x + 1) = {0x01 0x1B}
// we deal with uint8 so we only need 0x1B
const irreduciblePolynomial = 0x1B

// Multiply by element `a` and returns a new element.
func (e element) Multiply(a field.Element) field.Element {
	return element(mul(byte(e), byte(a.(element))))
}

// mul multiplies x and y without tables or data dependent branches.
func mul(x, y byte) byte {
	var product byte
	// Negating a 0/1 bit gives an all-zero or all-one mask, which replaces the branch of the
	// textbook shift-and-add algorithm.
	for i := 7; i >= 0; i-- {
		// reduce if the MSB of the running product is set
		mod := (-(product >> 7)) & irreduciblePolynomial
		// x[i] * y
		xiTimesY := -((x >> i) & 1) & y
		product = xiTimesY ^ mod ^ (product << 1)
	}
	return product
}

// Inverse returns an element that's the multiplicative inverse.
// If element has no inverse, an error is returned.
func (e element) Inverse() (field.Element, error) {
	if e == 0 {
		return nil, fmt.Errorf("inverse of zero is not defined")
	}
	// e^-1 = e^254 in GF(2^8), computed with a fixed addition chain:
	// https://crypto.stackexchange.com/a/40140
	x := byte(e)
	b := mul(x, x) // e^2
	c := mul(x, b) // e^3

	b = mul(c, c) // e^6
	b = mul(b, b) // e^12
	c = mul(b, c) // e^15
	b = mul(b, b) // e^24
	b = mul(b, b) // e^48
	b = mul(b, c) // e^63
	b = mul(b, b) // e^126
	b = mul(x, b) // e^127
	return element(mul(b, b)), nil
}

// IsZero reports whether e is 0.
func (e element) IsZero() bool {
	return e == 0
}

// Bytes returns a big endian representation of the element value as a byte array.
func (e element) Bytes() []byte {
	return []byte{byte(e)}
}

type gf8Field struct{}

// New creates a new GF8.
func New() field.GaloisField { return &gf8Field{} }

var _ field.GaloisField = (*gf8Field)(nil)

// CreateElement creates a new field element from an integer in [0, 255].
func (f *gf8Field) CreateElement(i int) (field.Element, error) {
	if i < 0 || i >= f.Order() {
		return nil, fmt.Errorf("field element %d out of range [0, %d)", i, f.Order())
	}
	return element(i), nil
}

// NewRandom reads one uniformly distributed element from r.
func (f *gf8Field) NewRandom(r io.Reader) (field.Element, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return element(0), fmt.Errorf("reading random element: %v", err)
	}
	return element(b[0]), nil
}

// NewRandomNonZero reads elements from r until it finds a non-zero one.
func (f *gf8Field) NewRandomNonZero(r io.Reader) (field.Element, error) {
	for {
		e, err := f.NewRandom(r)
		if err != nil {
			return element(0), err
		}
		if !e.IsZero() {
			return e, nil
		}
	}
}

// ReadElement reads the element at offset `i` of `b`.
func (f *gf8Field) ReadElement(b []byte, i int) (field.Element, error) {
	if i < 0 || i >= len(b) {
		return element(0), fmt.Errorf("offset %d out of range for b (len = %d)", i, len(b))
	}
	return element(b[i]), nil
}

// EncodeElements encodes a set of field elements into a byte array of size `secLen` .
func (f *gf8Field) EncodeElements(parts []field.Element, secLen int) ([]byte, error) {
	if secLen != len(parts) {
		return nil, fmt.Errorf("can't encode elements (len = %d) into secret len (%d)", len(parts), secLen)
	}
	out := make([]byte, secLen)
	for i, e := range parts {
		out[i] = byte(e.(element))
	}
	return out, nil
}

// DecodeElements decodes a byte array into a set of elements in GF(2^8).
func (f *gf8Field) DecodeElements(in []byte) []field.Element {
	elems := make([]field.Element, len(in))
	for i, b := range in {
		elems[i] = element(b)
	}
	return elems
}

func (f *gf8Field) ElementSize() int { return 1 }

func (f *gf8Field) Order() int { return 1 << 8 }

func (f *gf8Field) FieldID() finitefield.ID {
	return finitefield.GF8
}
