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

package shares

import (
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/google/uuid"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
)

// Tokens look like "shardlock1-abcde-fghij-...": a versioned prefix followed by the base32
// encoded share, in groups of five characters so they can be read aloud and typed back.
const (
	tokenPrefix  = "shardlock"
	tokenVersion = 1
	groupSize    = 5

	// version, field, generation, quorum, total, index
	headerLen   = 1 + 1 + 16 + 1 + 1 + 1
	checksumLen = 4
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// MarshalBinary encodes the share in the compact checksummed form that underlies its token.
func (s Share) MarshalBinary() ([]byte, error) {
	if s.Index < 1 || s.Index > 0xff || s.Quorum < 1 || s.Quorum > 0xff || s.Total < 1 || s.Total > 0xff {
		return nil, fmt.Errorf("share %d-of-%d index %d cannot be encoded", s.Quorum, s.Total, s.Index)
	}
	if len(s.Value) == 0 {
		return nil, fmt.Errorf("share %d has no value", s.Index)
	}
	b := make([]byte, 0, headerLen+len(s.Value)+checksumLen)
	b = append(b, tokenVersion, byte(s.Field))
	b = append(b, s.Generation[:]...)
	b = append(b, byte(s.Quorum), byte(s.Total), byte(s.Index))
	b = append(b, s.Value...)
	return binary.BigEndian.AppendUint32(b, crc32.Checksum(b, crcTable)), nil
}

// UnmarshalBinary decodes the form produced by MarshalBinary.
func (s *Share) UnmarshalBinary(b []byte) error {
	if len(b) <= headerLen+checksumLen {
		return fmt.Errorf("%w: share is too short (%d bytes)", ErrMalformedShare, len(b))
	}
	body, sum := b[:len(b)-checksumLen], b[len(b)-checksumLen:]
	if crc32.Checksum(body, crcTable) != binary.BigEndian.Uint32(sum) {
		return fmt.Errorf("%w: share checksum mismatch, check for typos", ErrMalformedShare)
	}
	if body[0] != tokenVersion {
		return fmt.Errorf("%w: unsupported share version %d", ErrMalformedShare, body[0])
	}
	f := finitefield.ID(body[1])
	if f != finitefield.GF8 && f != finitefield.GF16 {
		return fmt.Errorf("%w: unknown field %d", ErrMalformedShare, body[1])
	}
	gen, err := uuid.FromBytes(body[2:18])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedShare, err)
	}
	*s = Share{
		Field:      f,
		Generation: gen,
		Quorum:     int(body[18]),
		Total:      int(body[19]),
		Index:      int(body[20]),
		Value:      append([]byte(nil), body[headerLen:]...),
	}
	return nil
}

// MarshalText encodes the share as a token.
func (s Share) MarshalText() ([]byte, error) {
	b, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	enc := strings.ToLower(encoding.EncodeToString(b))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s%d", tokenPrefix, tokenVersion))
	for i := 0; i < len(enc); i += groupSize {
		sb.WriteByte('-')
		sb.WriteString(enc[i:min(i+groupSize, len(enc))])
	}
	return []byte(sb.String()), nil
}

// UnmarshalText decodes a token. Case, whitespace and group separators are ignored.
func (s *Share) UnmarshalText(text []byte) error {
	var sb strings.Builder
	for _, r := range strings.ToUpper(string(text)) {
		switch r {
		case '-', ' ', '\t', '\r', '\n':
			continue
		}
		sb.WriteRune(r)
	}
	compact := sb.String()
	prefix := strings.ToUpper(fmt.Sprintf("%s%d", tokenPrefix, tokenVersion))
	if !strings.HasPrefix(compact, prefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrMalformedShare, strings.ToLower(prefix))
	}
	b, err := encoding.DecodeString(strings.TrimPrefix(compact, prefix))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedShare, err)
	}
	return s.UnmarshalBinary(b)
}

// String returns the token form of the share, or a placeholder if it cannot be encoded.
func (s Share) String() string {
	b, err := s.MarshalText()
	if err != nil {
		return fmt.Sprintf("<invalid share: %v>", err)
	}
	return string(b)
}

// Describe returns a human readable summary of the share metadata without its value.
func (s Share) Describe() string {
	return fmt.Sprintf("share %d of %d (quorum %d, %v, split %v)", s.Index, s.Total, s.Quorum, s.Field, s.Generation)
}

// Parse decodes one share token.
func Parse(token string) (Share, error) {
	var s Share
	if err := s.UnmarshalText([]byte(token)); err != nil {
		return Share{}, err
	}
	return s, nil
}

// ParseAll decodes a list of share tokens.
func ParseAll(tokens []string) ([]Share, error) {
	out := make([]Share, 0, len(tokens))
	for i, t := range tokens {
		s, err := Parse(t)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i+1, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Tokens encodes shares as tokens.
func Tokens(shares []Share) ([]string, error) {
	out := make([]string, 0, len(shares))
	for _, s := range shares {
		b, err := s.MarshalText()
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}
