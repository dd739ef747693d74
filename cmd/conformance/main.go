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

// Binary to check the library against its documented properties.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"flag"
	"github.com/alecthomas/colour"
	"github.com/google/tink/go/subtle/random"
	"github.com/shardlock/shardlock/client"
	"github.com/shardlock/shardlock/client/dek"
	"github.com/shardlock/shardlock/client/envelope"
	"github.com/shardlock/shardlock/client/keys"
	"github.com/shardlock/shardlock/client/shares"
)

var (
	maxShares = flag.Int("max-shares", 5, "Check every quorum subset for splits of up to this many shares")
	largeSize = flag.Int("large-size", 1<<20+1, "Size in bytes of the large AEAD round trip")
)

type conformanceTest struct {
	testName  string
	expectErr bool
	run       func() error
}

// subsets calls fn with every k-element subset of {0, ..., n-1}.
func subsets(n, k int, fn func([]int) error) error {
	idx := make([]int, k)
	var rec func(start, depth int) error
	rec = func(start, depth int) error {
		if depth == k {
			return fn(idx)
		}
		for i := start; i < n; i++ {
			idx[depth] = i
			if err := rec(i+1, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(0, 0)
}

func pick(s []shares.Share, idx []int) []shares.Share {
	out := make([]shares.Share, 0, len(idx))
	for _, i := range idx {
		out = append(out, s[i])
	}
	return out
}

func roundTripEverySubset(field shares.Field) error {
	engine := shares.NewEngine(shares.WithField(field))
	for n := 1; n <= *maxShares; n++ {
		for m := 1; m <= n; m++ {
			secret := keys.Generate().Bytes()
			s, err := engine.Split(secret, m, n)
			if err != nil {
				return err
			}
			err = subsets(n, m, func(idx []int) error {
				got, err := engine.Combine(pick(s, idx))
				if err != nil {
					return fmt.Errorf("%d-of-%d subset %v: %v", m, n, idx, err)
				}
				if !bytes.Equal(got, secret) {
					return fmt.Errorf("%d-of-%d subset %v: wrong secret", m, n, idx)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func combineFewerThanQuorum() error {
	s, err := shares.Split(keys.Generate().Bytes(), 3, 5)
	if err != nil {
		return err
	}
	_, err = shares.Combine(s[:2])
	return err
}

func combineAcrossSplits(forceGeneration bool) func() error {
	return func() error {
		a, err := shares.Split(keys.Generate().Bytes(), 2, 3)
		if err != nil {
			return err
		}
		b, err := shares.Split(keys.Generate().Bytes(), 2, 3)
		if err != nil {
			return err
		}
		mixed := []shares.Share{a[0], b[1]}
		if forceGeneration {
			mixed[1].Generation = mixed[0].Generation
		}
		_, err = shares.Combine(mixed)
		return err
	}
}

func twoOfThree(idx ...int) func() error {
	return func() error {
		secret := keys.Generate().Bytes()
		s, err := shares.Split(secret, 2, 3)
		if err != nil {
			return err
		}
		got, err := shares.Combine(pick(s, idx))
		if err != nil {
			return err
		}
		if !bytes.Equal(got, secret) {
			return errors.New("wrong secret")
		}
		return nil
	}
}

func splitWith(quorum, total int) func() error {
	return func() error {
		_, err := shares.Split(keys.Generate().Bytes(), quorum, total)
		if err != nil && !errors.Is(err, shares.ErrInvalidParameters) {
			return fmt.Errorf("unexpected error kind: %v", err)
		}
		return err
	}
}

func aeadRoundTrip(size int) func() error {
	return func() error {
		key := keys.Generate()
		plaintext := random.GetRandomBytes(uint32(size))
		nonce, ct, err := envelope.Encrypt(key, plaintext)
		if err != nil {
			return err
		}
		got, err := envelope.Decrypt(key, nonce, ct)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, plaintext) {
			return errors.New("plaintext mismatch")
		}
		return nil
	}
}

func everyBitFlipDetected() error {
	key := keys.Generate()
	nonce, ct, err := envelope.Encrypt(key, []byte("attack at dawn"))
	if err != nil {
		return err
	}
	for _, buf := range [][]byte{nonce, ct} {
		for i := 0; i < len(buf)*8; i++ {
			buf[i/8] ^= 1 << (i % 8)
			_, err := envelope.Decrypt(key, nonce, ct)
			buf[i/8] ^= 1 << (i % 8)
			if !errors.Is(err, envelope.ErrAuthenticationFailure) {
				return fmt.Errorf("bit %d flip not detected: %v", i, err)
			}
		}
	}
	return nil
}

func emptyFileRoundTrip() error {
	dir, err := os.MkdirTemp("", "shardlock-conformance")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	in, enc, out := filepath.Join(dir, "in"), filepath.Join(dir, "enc"), filepath.Join(dir, "out")
	if err := os.WriteFile(in, nil, 0600); err != nil {
		return err
	}
	ctx := context.Background()
	c := &client.Client{}
	key := keys.Generate()
	if err := c.EncryptFile(ctx, in, enc, key); err != nil {
		return err
	}
	if err := c.DecryptFile(ctx, enc, out, key); err != nil {
		return err
	}
	got, err := os.ReadFile(out)
	if err != nil {
		return err
	}
	if len(got) != 0 {
		return fmt.Errorf("decrypted %d bytes, want 0", len(got))
	}
	return nil
}

func recoverAcrossSessions() error {
	first := dek.NewManager()
	if err := first.CreateNew(2, 3); err != nil {
		return err
	}
	want, _ := first.DEK()
	s, _ := first.Shares()
	wrapped, _ := first.WrappedDEK()

	second := dek.NewManager()
	defer second.Close()
	if err := second.Recover(s[1:], wrapped); err != nil {
		return err
	}
	got, _ := second.DEK()
	equal := got.Equal(want)
	first.Close()
	if !equal {
		return errors.New("recovered a different DEK")
	}
	return nil
}

func runSuite(name string, tests []conformanceTest) bool {
	fmt.Printf("Running %v tests...\n", name)
	passed := true
	for _, tc := range tests {
		err := tc.run()
		if tc.expectErr == (err != nil) {
			colour.Printf("^2 - %v^R\n", tc.testName)
			continue
		}
		passed = false
		colour.Printf("^1 - %v: %v^R\n", tc.testName, err)
	}
	return passed
}

func main() {
	flag.Parse()

	ok := runSuite("secret sharing", []conformanceTest{
		{"Every quorum subset restores the secret over GF(2^8)", false, func() error { return roundTripEverySubset(shares.GF8) }},
		{"Every quorum subset restores the secret over GF(2^16)", false, func() error { return roundTripEverySubset(shares.GF16) }},
		{"Fewer than quorum shares fail", true, combineFewerThanQuorum},
		{"Shares from different splits do not combine", true, combineAcrossSplits(false)},
		{"Shares from different splits with a forged split ID do not combine", true, combineAcrossSplits(true)},
		{"2-of-3: shares 1 and 3 restore the secret", false, twoOfThree(0, 2)},
		{"2-of-3: shares 2 and 3 restore the secret", false, twoOfThree(1, 2)},
		{"2-of-3: share 1 alone fails", true, twoOfThree(0)},
		{"Quorum above total is rejected", true, splitWith(4, 3)},
		{"Zero quorum is rejected", true, splitWith(0, 3)},
		{"Zero total is rejected", true, splitWith(0, 0)},
	})

	ok = runSuite("envelope", []conformanceTest{
		{"Empty plaintext round trip", false, aeadRoundTrip(0)},
		{"One byte plaintext round trip", false, aeadRoundTrip(1)},
		{"Large plaintext round trip", false, aeadRoundTrip(*largeSize)},
		{"Every single-bit flip is detected", false, everyBitFlipDetected},
		{"Empty file round trip", false, emptyFileRoundTrip},
		{"DEK recovered in a new session", false, recoverAcrossSessions},
	}) && ok

	if !ok {
		os.Exit(1)
	}
}
