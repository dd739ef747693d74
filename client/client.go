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

// Package client encrypts and decrypts files under a DEK held by a dek.Manager.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/shardlock/shardlock/client/envelope"
	"github.com/shardlock/shardlock/client/keys"
)

// ErrIO is returned, wrapped, when reading input or writing output fails.
var ErrIO = errors.New("i/o failure")

// Client provides file encryption and decryption under a caller-supplied DEK.
type Client struct {
	// Suite is the AEAD used for file content. The zero value is AES-256-GCM.
	Suite envelope.Suite
}

// Encrypt reads all of input, encrypts it under dek and writes the container to output.
func (c *Client) Encrypt(ctx context.Context, input io.Reader, output io.Writer, dek *keys.Secret) error {
	cipher, err := envelope.New(dek, envelope.WithSuite(c.Suite))
	if err != nil {
		return err
	}

	plaintext, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("%w: failed to read plaintext: %v", ErrIO, err)
	}
	defer memguard.WipeBytes(plaintext)

	if err := ctx.Err(); err != nil {
		return err
	}

	nonce, ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}

	if err := writeContainer(output, nonce, ciphertext); err != nil {
		return err
	}

	glog.V(1).Infof("Encrypted %d bytes with %v", len(plaintext), c.Suite)
	return nil
}

// Decrypt reads a container from input, authenticates and decrypts it under dek, then writes
// the plaintext to output. Nothing is written unless authentication succeeds.
func (c *Client) Decrypt(ctx context.Context, input io.Reader, output io.Writer, dek *keys.Secret) error {
	cipher, err := envelope.New(dek, envelope.WithSuite(c.Suite))
	if err != nil {
		return err
	}

	nonce, ciphertext, err := readContainer(input)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	plaintext, err := cipher.Decrypt(nonce, ciphertext)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(plaintext)

	if _, err := io.Copy(output, bytes.NewReader(plaintext)); err != nil {
		return fmt.Errorf("%w: failed to write plaintext: %v", ErrIO, err)
	}

	glog.V(1).Infof("Decrypted %d bytes with %v", len(plaintext), c.Suite)
	return nil
}

// EncryptFile encrypts the file at inPath into outPath.
func (c *Client) EncryptFile(ctx context.Context, inPath, outPath string, dek *keys.Secret) error {
	return transformFile(inPath, outPath, func(in io.Reader, out io.Writer) error {
		return c.Encrypt(ctx, in, out, dek)
	})
}

// DecryptFile decrypts the container at inPath into outPath. If decryption fails, outPath is
// left untouched.
func (c *Client) DecryptFile(ctx context.Context, inPath, outPath string, dek *keys.Secret) error {
	return transformFile(inPath, outPath, func(in io.Reader, out io.Writer) error {
		return c.Decrypt(ctx, in, out, dek)
	})
}

// transformFile runs fn from inPath into a temporary file beside outPath, renaming it into place
// only once fn and all writes have succeeded.
func transformFile(inPath, outPath string, fn func(io.Reader, io.Writer) error) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open input file: %v", ErrIO, err)
	}
	defer in.Close()

	if err := writeFileAtomic(outPath, func(w io.Writer) error { return fn(in, w) }); err != nil {
		return err
	}
	glog.Infof("Wrote %v", outPath)
	return nil
}

// writeFileAtomic writes the output of fn to a temporary file next to path and renames it
// into place once fn succeeds. On failure path is left as it was.
func writeFileAtomic(path string, fn func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create output file: %v", ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
				glog.Warningf("Failed to remove temporary file %v: %v", tmp.Name(), rmErr)
			}
		}
	}()

	if err := fn(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: failed to flush output file: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close output file: %v", ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: failed to move output into place: %v", ErrIO, err)
	}
	return nil
}
