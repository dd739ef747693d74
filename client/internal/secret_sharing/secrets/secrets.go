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

// Package secrets holds the values passed into and out of the sharing schemes.
package secrets

import (
	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
)

// Metadata is the sharing policy: the field, how many shares to produce and how many are
// needed to rebuild the secret.
type Metadata struct {
	Field     finitefield.ID
	NumShares int
	Threshold int
}

// Split is the output of a split and the input of a reconstruction.
type Split struct {
	Metadata Metadata
	Shares   []Share
	// SecretLen is the length in bytes of the secret that was split.
	SecretLen int
}

// Share is one point of the sharing polynomial, encoded per field element.
type Share struct {
	Value []byte
	// X is never 0; the secret is the value at 0.
	X int
}

// Xs returns the evaluation points of the shares, in order.
func (s Split) Xs() []int {
	xs := make([]int, len(s.Shares))
	for i, sh := range s.Shares {
		xs[i] = sh.X
	}
	return xs
}
