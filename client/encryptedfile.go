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

// Reading and writing encrypted containers and wrapped-DEK sidecar files.
//
// An encrypted container is the AEAD nonce followed by the ciphertext and its tag, with no
// header or padding:
// - nonce (12 bytes)
// - ciphertext (same length as the plaintext)
// - tag (16 bytes)
//
// A wrapped-DEK sidecar holds the standard base64 encoding of a DEK wrapped under the KEK on a
// single line.

package client

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/shardlock/shardlock/client/envelope"
)

// writeContainer writes nonce || ciphertext to output.
func writeContainer(output io.Writer, nonce, ciphertext []byte) error {
	if len(nonce) != envelope.NonceSize {
		return fmt.Errorf("nonce has length %d, expected %d", len(nonce), envelope.NonceSize)
	}
	if _, err := output.Write(nonce); err != nil {
		return fmt.Errorf("%w: failed to write nonce: %v", ErrIO, err)
	}
	if _, err := output.Write(ciphertext); err != nil {
		return fmt.Errorf("%w: failed to write ciphertext: %v", ErrIO, err)
	}
	return nil
}

// readContainer reads all of input and splits it into nonce and ciphertext.
func readContainer(input io.Reader) (nonce, ciphertext []byte, err error) {
	data, err := io.ReadAll(input)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read ciphertext: %v", ErrIO, err)
	}
	if len(data) < envelope.NonceSize+envelope.TagSize {
		return nil, nil, fmt.Errorf("%w: container has length %d, need at least %d", envelope.ErrAuthenticationFailure, len(data), envelope.NonceSize+envelope.TagSize)
	}
	return data[:envelope.NonceSize], data[envelope.NonceSize:], nil
}

// WriteWrappedKey stores a wrapped DEK at path, replacing any previous file in one rename.
func WriteWrappedKey(path string, wrapped []byte) error {
	line := base64.StdEncoding.EncodeToString(wrapped) + "\n"
	return writeFileAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("%w: failed to write wrapped key: %v", ErrIO, err)
		}
		return nil
	})
}

// ReadWrappedKey loads a wrapped DEK written by WriteWrappedKey.
func ReadWrappedKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read wrapped key: %v", ErrIO, err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key file %v is not valid base64: %v", ErrIO, path, err)
	}
	return wrapped, nil
}
