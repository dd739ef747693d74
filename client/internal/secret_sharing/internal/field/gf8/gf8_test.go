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

package gf8_test

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field/gf8"
)

func getRandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("Failed to read random bytes: %v", err)
	}
	return b
}

func mustElement(t *testing.T, f field.GaloisField, i int) field.Element {
	t.Helper()
	e, err := f.CreateElement(i)
	if err != nil {
		t.Fatalf("CreateElement(%d) = %v, want nil error", i, err)
	}
	return e
}

// slowMul is the branching shift-and-add multiplication, used as a reference.
func slowMul(a, b byte) byte {
	var p byte
	for b != 0 {
		if b&1 != 0 {
			p ^= a
		}
		hi := a & 0x80
		a <<= 1
		if hi != 0 {
			a ^= 0x1B
		}
		b >>= 1
	}
	return p
}

func TestAdditionAndSubtractionAreXor(t *testing.T) {
	f := gf8.New()
	for range 20 {
		in := getRandomBytes(t, 2)
		a, b := mustElement(t, f, int(in[0])), mustElement(t, f, int(in[1]))

		if got := a.Add(b).Bytes()[0]; got != in[0]^in[1] {
			t.Errorf("%d + %d = %d, want %d", in[0], in[1], got, in[0]^in[1])
		}
		if got := a.Subtract(b).Bytes()[0]; got != in[0]^in[1] {
			t.Errorf("%d - %d = %d, want %d", in[0], in[1], got, in[0]^in[1])
		}
	}
}

func TestMultiplication(t *testing.T) {
	f := gf8.New()
	for _, tc := range []struct {
		a, b, want byte
	}{
		// AES field arithmetic examples:
		// https://en.wikipedia.org/wiki/Finite_field_arithmetic#Rijndael's_(AES)_finite_field
		{a: 0x53, b: 0xCA, want: 0x01},
		{a: 0x02, b: 0x87, want: 0x15},
		{a: 0x03, b: 0x6E, want: 0xB2},
		{a: 0x57, b: 0x83, want: 0xC1},
		{a: 0x57, b: 0x13, want: 0xFE},
		{a: 161, b: 56, want: 102},
		{a: 51, b: 82, want: 15},
		{a: 15, b: 30, want: 170},
		{a: 0, b: 200, want: 0},
		{a: 1, b: 200, want: 200},
	} {
		t.Run(fmt.Sprintf("%d * %d", tc.a, tc.b), func(t *testing.T) {
			got := mustElement(t, f, int(tc.a)).Multiply(mustElement(t, f, int(tc.b))).Bytes()[0]
			if got != tc.want {
				t.Errorf("%d * %d = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMultiplicationMatchesReferenceForAllPairs(t *testing.T) {
	f := gf8.New()
	for a := 0; a < 256; a++ {
		ea := mustElement(t, f, a)
		for b := 0; b < 256; b++ {
			got := ea.Multiply(mustElement(t, f, b)).Bytes()[0]
			if want := slowMul(byte(a), byte(b)); got != want {
				t.Fatalf("%d * %d = %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestInverse(t *testing.T) {
	f := gf8.New()
	inv, err := mustElement(t, f, 0x53).Inverse()
	if err != nil {
		t.Fatal(err)
	}
	if got := inv.Bytes()[0]; got != 0xCA {
		t.Errorf("Inverse(0x53) = %#x, want 0xca", got)
	}

	one := mustElement(t, f, 1)
	for a := 1; a < 256; a++ {
		e := mustElement(t, f, a)
		inv, err := e.Inverse()
		if err != nil {
			t.Fatalf("Inverse(%d) = %v, want nil error", a, err)
		}
		if got := e.Multiply(inv); got != one {
			t.Fatalf("%d * Inverse(%d) = %v, want 1", a, a, got.Bytes())
		}
	}
}

func TestZeroInverseFails(t *testing.T) {
	if _, err := mustElement(t, gf8.New(), 0).Inverse(); err == nil {
		t.Fatalf("Inverse() err = nil, want non-nil error")
	}
}

func TestCreateElementOutOfRangeFails(t *testing.T) {
	f := gf8.New()
	for _, i := range []int{-1, 256, 1 << 16} {
		if _, err := f.CreateElement(i); err == nil {
			t.Errorf("CreateElement(%d) err = nil, want non-nil error", i)
		}
	}
}

func TestNewRandomNonZeroSkipsZero(t *testing.T) {
	f := gf8.New()
	e, err := f.NewRandomNonZero(bytes.NewReader([]byte{0, 0, 0, 7}))
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Bytes()[0]; got != 7 {
		t.Errorf("NewRandomNonZero() = %d, want 7", got)
	}
}

func TestNewRandomShortReaderFails(t *testing.T) {
	f := gf8.New()
	if _, err := f.NewRandom(bytes.NewReader(nil)); err == nil {
		t.Errorf("NewRandom(empty reader) err = nil, want non-nil error")
	}
	if _, err := f.NewRandomNonZero(bytes.NewReader([]byte{0, 0})); err == nil {
		t.Errorf("NewRandomNonZero(zeros only) err = nil, want non-nil error")
	}
}

func TestReadElementOutOfRangeFails(t *testing.T) {
	f := gf8.New()
	if _, err := f.ReadElement([]byte{1, 2}, 2); err == nil {
		t.Errorf("ReadElement(len 2, 2) err = nil, want non-nil error")
	}
}

func TestEncodeDecode(t *testing.T) {
	f := gf8.New()
	in := getRandomBytes(t, 33)
	elems := f.DecodeElements(in)
	if len(elems) != len(in) {
		t.Fatalf("len(DecodeElements()) = %d, want %d", len(elems), len(in))
	}
	got, err := f.EncodeElements(elems, len(in))
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, in) {
		t.Errorf("EncodeElements(DecodeElements(%x)) = %x", in, got)
	}
	if _, err := f.EncodeElements(elems, len(in)+1); err == nil {
		t.Errorf("EncodeElements() with wrong length err = nil, want non-nil error")
	}
}

func TestFieldProperties(t *testing.T) {
	f := gf8.New()
	if got := f.ElementSize(); got != 1 {
		t.Errorf("ElementSize() = %d, want 1", got)
	}
	if got := f.Order(); got != 256 {
		t.Errorf("Order() = %d, want 256", got)
	}
	if got := f.FieldID(); got != finitefield.GF8 {
		t.Errorf("FieldID() = %v, want %v", got, finitefield.GF8)
	}
}
