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

// Package finitefield represents the finite fields supported by the secret sharing library.
package finitefield

import "fmt"

// ID represents a finite field supported by the secret sharing library. The numeric value is
// part of the encoded share format and must not change.
type ID int

const (
	// GF8 is a Galois Field with 2^8 elements.
	GF8 ID = 2 + iota
	// GF16 is a Galois Field with 2^16 elements.
	GF16
)

func (id ID) String() string {
	switch id {
	case GF8:
		return "GF8"
	case GF16:
		return "GF16"
	default:
		return fmt.Sprintf("unknown finite field ID: %d", id)
	}
}

// Parse maps a configuration name ("gf8", "gf16") to a field ID.
func Parse(name string) (ID, error) {
	switch name {
	case "", "gf8", "GF8":
		return GF8, nil
	case "gf16", "GF16":
		return GF16, nil
	default:
		return 0, fmt.Errorf("unknown finite field %q", name)
	}
}
