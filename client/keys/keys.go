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

// Package keys holds the 256-bit symmetric secrets used as KEKs and DEKs.
package keys

import (
	"crypto/subtle"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/google/tink/go/subtle/random"
)

// Size is the size of a Secret in bytes.
const Size = 32

// Secret is a 256-bit key. A nil or wiped Secret is unset. Secrets must not be shared across
// concurrent operations; the owner calls Wipe when it is done with the key.
type Secret struct {
	key []byte
}

// Generate returns a new Secret read from a cryptographically secure source.
func Generate() *Secret {
	return &Secret{key: random.GetRandomBytes(Size)}
}

// FromBytes copies b into a new Secret. b must be exactly Size bytes long.
func FromBytes(b []byte) (*Secret, error) {
	if len(b) != Size {
		return nil, fmt.Errorf("secret has length %d, expected %d", len(b), Size)
	}
	key := make([]byte, Size)
	copy(key, b)
	return &Secret{key: key}, nil
}

// IsSet reports whether s holds key material.
func (s *Secret) IsSet() bool {
	return s != nil && len(s.key) == Size
}

// Bytes returns the key material. The slice aliases the Secret and is zeroed by Wipe, so
// callers must not retain it.
func (s *Secret) Bytes() []byte {
	if !s.IsSet() {
		return nil
	}
	return s.key
}

// Equal compares two secrets in constant time. Unset secrets are never equal.
func (s *Secret) Equal(o *Secret) bool {
	if !s.IsSet() || !o.IsSet() {
		return false
	}
	return subtle.ConstantTimeCompare(s.key, o.key) == 1
}

// Wipe overwrites the key material and leaves s unset. Wipe is safe on a nil Secret.
func (s *Secret) Wipe() {
	if s == nil || s.key == nil {
		return
	}
	memguard.WipeBytes(s.key)
	s.key = nil
}

// String never prints key material.
func (s *Secret) String() string {
	if !s.IsSet() {
		return "Secret(unset)"
	}
	return "Secret(set)"
}
