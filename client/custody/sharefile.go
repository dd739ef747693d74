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

package custody

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/shardlock/shardlock/client"
	"github.com/shardlock/shardlock/client/shares"
	"github.com/shardlock/shardlock/constants"
	"sigs.k8s.io/yaml"
)

const (
	// ShareFileVersion is the version written to new share files.
	ShareFileVersion = 1
	// ShareFileExt is the extension of share files.
	ShareFileExt = constants.ShareFileExt
)

// ShareFile is the on-disk form of one share. Exactly one of Share and Sealed is set: Share
// holds the token of a share kept in the clear, Sealed the binary share sealed to Custodian.
type ShareFile struct {
	Version   int    `json:"version"`
	Index     int    `json:"index"`
	Custodian string `json:"custodian,omitempty"`
	Share     string `json:"share,omitempty"`
	Sealed    []byte `json:"sealed,omitempty"`
	// Hash is the SHA-256 digest of the binary share, checked after unsealing.
	Hash []byte `json:"hash"`
}

// ShareFileName returns the path of the file for the share with the given index.
func ShareFileName(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+ShareFileExt)
}

// HashShare performs a SHA-256 hash on the provided share bytes.
func HashShare(share []byte) []byte {
	hash := sha256.Sum256(share)
	return hash[:]
}

// ValidateShare reports whether share hashes to expectedHash.
func ValidateShare(share []byte, expectedHash []byte) bool {
	return bytes.Equal(HashShare(share), expectedHash)
}

// Seal builds the ShareFile for s, sealed with sealer.
func Seal(ctx context.Context, s shares.Share, sealer Sealer) (*ShareFile, error) {
	b, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(b)

	f := &ShareFile{
		Version:   ShareFileVersion,
		Index:     s.Index,
		Custodian: sealer.URI(),
		Hash:      HashShare(b),
	}
	if f.Custodian == "" {
		f.Share = s.String()
		return f, nil
	}
	if f.Sealed, err = sealer.Seal(ctx, b); err != nil {
		return nil, fmt.Errorf("error sealing share %d for %v: %w", s.Index, f.Custodian, err)
	}
	return f, nil
}

// Open unseals the share held by f, resolving its custodian with r.
func (f *ShareFile) Open(ctx context.Context, r *Resolver) (shares.Share, error) {
	if f.Version != ShareFileVersion {
		return shares.Share{}, fmt.Errorf("%w: unsupported share file version %d", shares.ErrMalformedShare, f.Version)
	}

	var s shares.Share
	var b []byte
	if f.Custodian == "" {
		var err error
		if s, err = shares.Parse(f.Share); err != nil {
			return shares.Share{}, err
		}
		if b, err = s.MarshalBinary(); err != nil {
			return shares.Share{}, err
		}
	} else {
		sealer, err := r.SealerForURI(ctx, f.Custodian)
		if err != nil {
			return shares.Share{}, err
		}
		if b, err = sealer.Unseal(ctx, f.Sealed); err != nil {
			return shares.Share{}, fmt.Errorf("error unsealing share %d with %v: %w", f.Index, f.Custodian, err)
		}
		if err := s.UnmarshalBinary(b); err != nil {
			memguard.WipeBytes(b)
			return shares.Share{}, err
		}
	}
	defer memguard.WipeBytes(b)

	if !ValidateShare(b, f.Hash) {
		return shares.Share{}, fmt.Errorf("%w: share %d does not have the expected hash", shares.ErrMalformedShare, f.Index)
	}
	if s.Index != f.Index {
		return shares.Share{}, fmt.Errorf("%w: file is labelled share %d but holds share %d", shares.ErrMalformedShare, f.Index, s.Index)
	}
	return s, nil
}

// ErrShareFileExists is returned when writing a share file would replace an existing one.
var ErrShareFileExists = errors.New("share file already exists")

// WriteShareFile seals s with sealer and writes it to path. An existing file at path is left
// untouched and ErrShareFileExists is returned.
func WriteShareFile(ctx context.Context, path string, s shares.Share, sealer Sealer) error {
	f, err := Seal(ctx, s, sealer)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize share file: %v", err)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %v", ErrShareFileExists, path)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to create share file: %v", client.ErrIO, err)
	}
	_, err = out.Write(data)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		RemoveFiles([]string{path})
		return fmt.Errorf("%w: failed to write share file: %v", client.ErrIO, err)
	}
	glog.Infof("Wrote %v to %v", s.Describe(), path)
	return nil
}

// WriteShareFiles writes every share to ShareFileName(dir, index), sealed for the custodian
// uriFor returns for its index, and returns the paths written. No existing file is replaced.
// If any share fails, the files already written are removed.
func WriteShareFiles(ctx context.Context, dir string, s []shares.Share, r *Resolver, uriFor func(index int) string) (paths []string, err error) {
	defer func() {
		if err != nil {
			RemoveFiles(paths)
			paths = nil
		}
	}()
	for _, share := range s {
		sealer, err := r.SealerForURI(ctx, uriFor(share.Index))
		if err != nil {
			return paths, fmt.Errorf("failed to resolve custodian for share %d: %v", share.Index, err)
		}
		path := ShareFileName(dir, share.Index)
		if err := WriteShareFile(ctx, path, share, sealer); err != nil {
			return paths, fmt.Errorf("failed to write share %d: %w", share.Index, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RemoveFiles deletes paths, ignoring files that are already gone.
func RemoveFiles(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			glog.Warningf("Failed to remove %v: %v", path, err)
		}
	}
}

// LoadShareFile reads the share file at path without opening it.
func LoadShareFile(path string) (*ShareFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read share file: %v", client.ErrIO, err)
	}
	var f ShareFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v is not a share file: %v", shares.ErrMalformedShare, path, err)
	}
	return &f, nil
}

// ReadShareFile reads and opens the share file at path.
func ReadShareFile(ctx context.Context, path string, r *Resolver) (shares.Share, error) {
	f, err := LoadShareFile(path)
	if err != nil {
		return shares.Share{}, err
	}
	return f.Open(ctx, r)
}

// ReadShareFiles opens every readable share among paths. Files that cannot be read or
// unsealed are logged and skipped, so a quorum can still be assembled when some custodians
// are unavailable. An error is returned only if no share could be opened.
func ReadShareFiles(ctx context.Context, paths []string, r *Resolver) ([]shares.Share, error) {
	var out []shares.Share
	var lastErr error
	for _, path := range paths {
		s, err := ReadShareFile(ctx, path, r)
		if err != nil {
			glog.Warningf("Skipping share file %v: %v", path, err)
			lastErr = err
			continue
		}
		glog.Infof("Read %v from %v", s.Describe(), path)
		out = append(out, s)
	}
	if len(out) == 0 {
		if lastErr == nil {
			return nil, fmt.Errorf("%w: no share files given", shares.ErrReconstruction)
		}
		return nil, fmt.Errorf("%w: no share file could be opened, last error: %w", shares.ErrReconstruction, lastErr)
	}
	return out, nil
}
