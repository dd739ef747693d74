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

package shamirgeneric_test

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field/gf16"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field/gf8"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/shamirgeneric"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/secrets"
)

func getRandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("Failed to read random bytes: %v", err)
	}
	return b
}

func createMetadata(gf field.GaloisField, threshold, numShares int) secrets.Metadata {
	return secrets.Metadata{
		Field:     gf.FieldID(),
		NumShares: numShares,
		Threshold: threshold,
	}
}

func fields() map[string]field.GaloisField {
	return map[string]field.GaloisField{"GF8": gf8.New(), "GF16": gf16.New()}
}

func removeAtIndex(s []secrets.Share, index int) []secrets.Share {
	return append(s[:index], s[index+1:]...)
}

func swap(s []secrets.Share, i int, j int) {
	s[i], s[j] = s[j], s[i]
}

func TestSplitReconstructWorks(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	for name, gf := range fields() {
		t.Run(name, func(t *testing.T) {
			split, err := shamirgeneric.SplitSecret(createMetadata(gf, 4, 6), secret, gf, rand.Reader)
			if err != nil {
				t.Fatalf("shamirgeneric.SplitSecret() err = %v, want nil", err)
			}
			recon, err := shamirgeneric.Reconstruct(split, gf)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(recon, secret) {
				t.Errorf("got %v, want %v", hex.EncodeToString(recon), hex.EncodeToString(secret))
			}
		})
	}
}

func TestSplitReconstructOddLengthSecret(t *testing.T) {
	secret := getRandomBytes(t, 33)
	gf := gf16.New()
	split, err := shamirgeneric.SplitSecret(createMetadata(gf, 2, 3), secret, gf, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(split.Shares[0].Value); got != 34 {
		t.Errorf("len(share) = %d, want 34", got)
	}
	recon, err := shamirgeneric.Reconstruct(split, gf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recon, secret) {
		t.Errorf("got %v, want %v", hex.EncodeToString(recon), hex.EncodeToString(secret))
	}
}

func TestSplitReconstructLargeValues(t *testing.T) {
	secret := getRandomBytes(t, 300)
	gf := gf8.New()
	split, err := shamirgeneric.SplitSecret(createMetadata(gf, 50, 80), secret, gf, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	recon, err := shamirgeneric.Reconstruct(split, gf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recon, secret) {
		t.Errorf("got %v, want %v", hex.EncodeToString(recon), hex.EncodeToString(secret))
	}
}

func TestThresholdOfOneCopiesSecretIntoEveryShare(t *testing.T) {
	secret := getRandomBytes(t, 16)
	gf := gf8.New()
	split, err := shamirgeneric.SplitSecret(createMetadata(gf, 1, 3), secret, gf, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range split.Shares {
		if !bytes.Equal(s.Value, secret) {
			t.Errorf("share %d = %x, want %x", s.X, s.Value, secret)
		}
		single := split
		single.Shares = []secrets.Share{s}
		recon, err := shamirgeneric.Reconstruct(single, gf)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(recon, secret) {
			t.Errorf("Reconstruct(share %d) = %x, want %x", s.X, recon, secret)
		}
	}
}

func TestSplitFromStaticRandomness(t *testing.T) {
	// f(x) = 5 + 3x over GF(2^8): f(1) = 6, f(2) = 3, f(3) = 0.
	gf := gf8.New()
	split, err := shamirgeneric.SplitSecret(createMetadata(gf, 2, 3), []byte{5}, gf, bytes.NewReader([]byte{3}))
	if err != nil {
		t.Fatal(err)
	}
	want := []secrets.Share{{Value: []byte{6}, X: 1}, {Value: []byte{3}, X: 2}, {Value: []byte{0}, X: 3}}
	for i, s := range split.Shares {
		if s.X != want[i].X || !bytes.Equal(s.Value, want[i].Value) {
			t.Errorf("share[%d] = {%x, %d}, want {%x, %d}", i, s.Value, s.X, want[i].Value, want[i].X)
		}
	}

	split.Shares = split.Shares[1:]
	recon, err := shamirgeneric.Reconstruct(split, gf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recon, []byte{5}) {
		t.Errorf("Reconstruct({2, 3}) = %x, want 05", recon)
	}
}

func TestReconstructWithoutAllShares(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	gf := gf8.New()
	split, err := shamirgeneric.SplitSecret(createMetadata(gf, 4, 6), secret, gf, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	split.Shares = removeAtIndex(split.Shares, 5)
	split.Shares = removeAtIndex(split.Shares, 0)
	recon, err := shamirgeneric.Reconstruct(split, gf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recon, secret) {
		t.Errorf("got %v, want %v", hex.EncodeToString(recon), hex.EncodeToString(secret))
	}
	// swapping the order shouldn't matter.
	swap(split.Shares, 0, 2)
	recon, err = shamirgeneric.Reconstruct(split, gf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recon, secret) {
		t.Errorf("got %v, want %v", hex.EncodeToString(recon), hex.EncodeToString(secret))
	}
}

func TestReconstructWithAlteredValueChangesResult(t *testing.T) {
	for _, index := range []int{0, 2} {
		secret := getRandomBytes(t, 32)
		gf := gf8.New()
		split, err := shamirgeneric.SplitSecret(createMetadata(gf, 2, 3), secret, gf, rand.Reader)
		if err != nil {
			t.Fatalf("shamirgeneric.SplitSecret() err = %v, want nil", err)
		}
		split.Shares[index].Value[0] ^= 0x01
		recon, err := shamirgeneric.Reconstruct(split, gf)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(recon, secret) {
			t.Errorf("reconstructing with altered share %d returned the original secret", index)
		}
	}
}

func TestWithLessSharesThanThresholdFails(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	gf := gf8.New()
	splitSecret, err := shamirgeneric.SplitSecret(createMetadata(gf, 4, 6), secret, gf, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	splitSecret.Shares = removeAtIndex(splitSecret.Shares, 5)
	splitSecret.Shares = removeAtIndex(splitSecret.Shares, 1)
	splitSecret.Shares = removeAtIndex(splitSecret.Shares, 0)
	if _, err := shamirgeneric.Reconstruct(splitSecret, gf); err == nil {
		t.Fatalf("Reconstruct() err = nil, want error")
	}
}

func TestReconstructRejectsBadShares(t *testing.T) {
	gf := gf8.New()
	base := func() secrets.Split {
		split, err := shamirgeneric.SplitSecret(createMetadata(gf, 2, 3), getRandomBytes(t, 8), gf, rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		return split
	}
	for _, tc := range []struct {
		name   string
		mutate func(*secrets.Split)
	}{
		{name: "zero index", mutate: func(s *secrets.Split) { s.Shares[0].X = 0 }},
		{name: "index beyond field", mutate: func(s *secrets.Split) { s.Shares[0].X = 256 }},
		{name: "duplicate index", mutate: func(s *secrets.Split) { s.Shares[1].X = s.Shares[0].X }},
		{name: "short value", mutate: func(s *secrets.Split) { s.Shares[1].Value = s.Shares[1].Value[1:] }},
		{name: "field mismatch", mutate: func(s *secrets.Split) { s.Metadata.Field = finitefield.GF16 }},
		{name: "zero threshold", mutate: func(s *secrets.Split) { s.Metadata.Threshold = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			split := base()
			tc.mutate(&split)
			if _, err := shamirgeneric.Reconstruct(split, gf); err == nil {
				t.Errorf("Reconstruct() err = nil, want error")
			}
		})
	}
}

func TestSplitRejectsInvalidParameters(t *testing.T) {
	gf := gf8.New()
	for _, tc := range []struct {
		name      string
		threshold int
		numShares int
		secret    []byte
	}{
		{name: "threshold above shares", threshold: 4, numShares: 3, secret: []byte{1}},
		{name: "zero threshold", threshold: 0, numShares: 3, secret: []byte{1}},
		{name: "zero shares", threshold: 0, numShares: 0, secret: []byte{1}},
		{name: "shares beyond field", threshold: 2, numShares: 256, secret: []byte{1}},
		{name: "empty secret", threshold: 2, numShares: 3, secret: nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := shamirgeneric.SplitSecret(createMetadata(gf, tc.threshold, tc.numShares), tc.secret, gf, rand.Reader); err == nil {
				t.Errorf("SplitSecret(%d, %d) err = nil, want error", tc.threshold, tc.numShares)
			}
		})
	}
}

func TestSplitFailsWhenRandomnessRunsOut(t *testing.T) {
	gf := gf8.New()
	if _, err := shamirgeneric.SplitSecret(createMetadata(gf, 3, 3), []byte{1, 2}, gf, bytes.NewReader([]byte{1})); err == nil {
		t.Errorf("SplitSecret() with exhausted reader err = nil, want error")
	}
}
