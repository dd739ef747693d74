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


package envelope

import (
	"fmt"
	"sync"
)

// nonceTracker remembers the nonces emitted under one key.
type nonceTracker struct {
	mu   sync.Mutex
	seen map[[NonceSize]byte]struct{}
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{seen: make(map[[NonceSize]byte]struct{})}
}

func (t *nonceTracker) record(nonce []byte) error {
	if len(nonce) != NonceSize {
		return fmt.Errorf("nonce has length %d, expected %d", len(nonce), NonceSize)
	}
	var k [NonceSize]byte
	copy(k[:], nonce)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[k]; ok {
		return ErrNonceReuse
	}
	t.seen[k] = struct{}{}
	return nil
}

func (t *nonceTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
