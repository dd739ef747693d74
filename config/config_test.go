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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shardlock/shardlock/client/confidentialspace"
	"github.com/shardlock/shardlock/client/custody"
	"github.com/shardlock/shardlock/client/envelope"
	"github.com/shardlock/shardlock/client/shares"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shardlock.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
quorum: 2
total_shares: 3
cipher_suite: chacha20-poly1305
share_dir: ./vault
field: gf16
custodians:
  - uri: gcp-kms://projects/p/locations/l/keyRings/r/cryptoKeys/k
  - uri: rsa-fingerprint://abc=
  - {}
asymmetric_keys:
  public_key_files: [pub.pem]
  private_key_files: [priv.pem]
kms_credentials_file: creds.json
confidential_space_credentials:
  - key_uri_pattern: gcp-kms://projects/p/.*
    wip_name: projects/1/locations/global/workloadIdentityPools/pool/providers/attest
    mode: unseal
`)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v, want nil error", err)
	}
	want := &Config{
		Quorum:      2,
		TotalShares: 3,
		CipherSuite: "chacha20-poly1305",
		ShareDir:    "./vault",
		Field:       "gf16",
		Custodians: []Custodian{
			{URI: "gcp-kms://projects/p/locations/l/keyRings/r/cryptoKeys/k"},
			{URI: "rsa-fingerprint://abc="},
			{},
		},
		AsymmetricKeys: AsymmetricKeys{
			PublicKeyFiles:  []string{"pub.pem"},
			PrivateKeyFiles: []string{"priv.pem"},
		},
		KMSCredentialsFile: "creds.json",
		ConfidentialSpace: []confidentialspace.KMSCredential{{
			KeyURIPattern: "gcp-kms://projects/p/.*",
			WIPName:       "projects/1/locations/global/workloadIdentityPools/pool/providers/attest",
			Mode:          confidentialspace.ModeUnseal,
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() returned unexpected config (-want +got):\n%s", diff)
	}

	if s, _ := got.Suite(); s != envelope.ChaCha20Poly1305 {
		t.Errorf("Suite() = %v, want %v", s, envelope.ChaCha20Poly1305)
	}
	if f, _ := got.FieldID(); f != shares.GF16 {
		t.Errorf("FieldID() = %v, want %v", f, shares.GF16)
	}
	if uri := got.CustodianURI(2); uri != "rsa-fingerprint://abc=" {
		t.Errorf("CustodianURI(2) = %q", uri)
	}
	if diff := cmp.Diff(custody.Keys{PublicKeyFiles: []string{"pub.pem"}, PrivateKeyFiles: []string{"priv.pem"}}, got.Keys()); diff != "" {
		t.Errorf("Keys() (-want +got):\n%s", diff)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	got, err := Load(writeConfig(t, "quorum: 3\ntotal_shares: 5\n"))
	if err != nil {
		t.Fatalf("Load() = %v, want nil error", err)
	}
	want := Default()
	want.Quorum, want.TotalShares = 3, 5
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() returned unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadFailures(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		wantErr  error
	}{
		{"unknown field", "quorum: 2\ntotal_shares: 3\nthreshold: 2\n", nil},
		{"not yaml", "quorum: [", nil},
		{"quorum above total", "quorum: 4\ntotal_shares: 3\n", shares.ErrInvalidParameters},
		{"zero quorum", "quorum: 0\ntotal_shares: 3\n", shares.ErrInvalidParameters},
		{"too many shares", "quorum: 2\ntotal_shares: 17\n", shares.ErrInvalidParameters},
		{"custodian count", "quorum: 1\ntotal_shares: 2\ncustodians: [{}]\n", shares.ErrInvalidParameters},
		{"unknown suite", "cipher_suite: rot13\n", nil},
		{"unknown field name", "field: gf32\n", nil},
		{"bad credential pattern", "confidential_space_credentials: [{key_uri_pattern: '(', wip_name: w}]\n", nil},
		{"bad credential mode", "confidential_space_credentials: [{key_uri_pattern: '.*', wip_name: w, mode: both}]\n", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			if err == nil {
				t.Fatalf("Load(%q) = nil error, want error", tc.contents)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Load(%q) = %v, want %v", tc.contents, err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load(missing non-default file) = nil error, want error")
	}

	// A missing file at the default location means "use the defaults".
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	path, err := DefaultPath()
	if err != nil {
		t.Skipf("no user config directory: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load(default path) = %v, want nil error", err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("Load(default path) (-want +got):\n%s", diff)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil error", err)
	}
}

func TestCustodianURIOutOfRange(t *testing.T) {
	c := Default()
	for _, i := range []int{0, 1, 4} {
		if uri := c.CustodianURI(i); uri != "" {
			t.Errorf("CustodianURI(%d) with no custodians = %q, want empty", i, uri)
		}
	}
}

func TestKMSCredentials(t *testing.T) {
	c := Default()
	if creds, err := c.KMSCredentials(); err != nil || creds != "" {
		t.Errorf("KMSCredentials() = (%q, %v), want empty", creds, err)
	}

	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte(`{"type":"service_account"}`), 0600); err != nil {
		t.Fatal(err)
	}
	c.KMSCredentialsFile = path
	if creds, err := c.KMSCredentials(); err != nil || creds != `{"type":"service_account"}` {
		t.Errorf("KMSCredentials() = (%q, %v)", creds, err)
	}

	c.KMSCredentialsFile = path + ".missing"
	if _, err := c.KMSCredentials(); err == nil {
		t.Errorf("KMSCredentials(missing file) = nil error, want error")
	}
}
