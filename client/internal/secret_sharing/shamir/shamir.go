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

// Package shamir encapsulates all of the logic needed to perform t-of-n [Shamir
// Secret Sharing] (SSS) on arbitrary-size secrets over
// a finite field. SSS is based on the Lagrange interpolation theorem, which
// states that `k` points are enough to uniquely determine a polynomial of
// degree less than or equal to `k - 1`.
//
// This scheme is secure under the following assumptions:
//   - The scheme requires a trusted dealer to generate the shares. Participants
//     must trust the dealer with access to the secret and to properly generate the
//     shares.
//   - The scheme assumes a passive adversary which can observe fewer than t shares
//     without learning anything about the secret. Reconstruct does not authenticate
//     shares; callers that need to detect bogus shares must embed their own check
//     in the secret.
//
// [Shamir Secret Sharing]: https://web.mit.edu/6.857/OldStuff/Fall03/ref/Shamir-HowToShareAsecrets.pdf
package shamir

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field/gf16"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field/gf8"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/shamirgeneric"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/secrets"
)

func createField(fieldID finitefield.ID) (field.GaloisField, error) {
	switch fieldID {
	case finitefield.GF8:
		return gf8.New(), nil
	case finitefield.GF16:
		return gf16.New(), nil
	default:
		return nil, fmt.Errorf("invalid field: %q", fieldID)
	}
}

// ShareLen returns the length of each share value for a secret of secretLen bytes.
func ShareLen(fieldID finitefield.ID, secretLen int) (int, error) {
	f, err := createField(fieldID)
	if err != nil {
		return 0, err
	}
	return field.EncodedLen(f, secretLen), nil
}

// SplitSecret splits a secret into metadata.NumShares shares where metadata.Threshold
// or more shares can be combined to reconstruct the original secret.
func SplitSecret(metadata secrets.Metadata, secret []byte) (secrets.Split, error) {
	return SplitSecretWithRand(metadata, secret, rand.Reader)
}

// SplitSecretWithRand is SplitSecret with the polynomial coefficients read from r.
func SplitSecretWithRand(metadata secrets.Metadata, secret []byte, r io.Reader) (secrets.Split, error) {
	f, err := createField(metadata.Field)
	if err != nil {
		return secrets.Split{}, err
	}
	return shamirgeneric.SplitSecret(metadata, secret, f, r)
}

// Reconstruct reconstructs the secret from secretSplit.
//
// The number of shares provided must meet the threshold specified when the
// shares were created by [SplitSecret].
//
// Reconstruct will not detect bogus or corrupted shares.
func Reconstruct(secretSplit secrets.Split) ([]byte, error) {
	if len(secretSplit.Shares) == 0 {
		return nil, fmt.Errorf("no shares provided")
	}
	f, err := createField(secretSplit.Metadata.Field)
	if err != nil {
		return nil, err
	}
	return shamirgeneric.Reconstruct(secretSplit, f)
}
