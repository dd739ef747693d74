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

// Package confidentialspace derives Cloud KMS credentials for share custodians when running as
// a Confidential Space workload.
package confidentialspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	glog "github.com/golang/glog"
)

const (
	defaultTokenFile    = "/run/container_launcher/attestation_verifier_claims_token"
	audiencePrefix      = "//iam.googleapis.com/"
	impersonationURLFmt = "https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/%v:generateAccessToken"
)

// Mode restricts a credential to sealing or unsealing shares.
type Mode string

const (
	// ModeSealAndUnseal matches both directions. It is the default.
	ModeSealAndUnseal Mode = ""
	// ModeSeal matches only when writing shares.
	ModeSeal Mode = "seal"
	// ModeUnseal matches only when reading shares.
	ModeUnseal Mode = "unseal"
)

// KMSCredential maps custodian URIs matching KeyURIPattern to a workload identity pool.
type KMSCredential struct {
	KeyURIPattern  string `json:"key_uri_pattern"`
	WIPName        string `json:"wip_name"`
	ServiceAccount string `json:"service_account,omitempty"`
	Mode           Mode   `json:"mode,omitempty"`
}

// Workload holds the credentials usable by a Confidential Space workload.
type Workload struct {
	credentials    []KMSCredential
	patterns       []*regexp.Regexp
	tokenFile      string
	tokenFileFound bool
}

// NewWorkload returns a Workload using the attestation token at its standard location.
func NewWorkload(creds []KMSCredential) (*Workload, error) {
	return NewWorkloadWithTokenFile(creds, defaultTokenFile)
}

// NewWorkloadWithTokenFile returns a Workload reading the attestation token from tokenFile.
func NewWorkloadWithTokenFile(creds []KMSCredential, tokenFile string) (*Workload, error) {
	w := &Workload{
		credentials:    creds,
		tokenFile:      tokenFile,
		tokenFileFound: fileExists(tokenFile),
	}
	for _, cred := range creds {
		switch cred.Mode {
		case ModeSealAndUnseal, ModeSeal, ModeUnseal:
		default:
			return nil, fmt.Errorf("unknown credential mode %q", cred.Mode)
		}
		if cred.WIPName == "" {
			return nil, fmt.Errorf("credential for %q has no workload identity pool", cred.KeyURIPattern)
		}
		re, err := regexp.Compile(cred.KeyURIPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid key URI pattern %q: %v", cred.KeyURIPattern, err)
		}
		w.patterns = append(w.patterns, re)
	}
	return w, nil
}

// fileExists reports whether path exists. Errors other than os.ErrNotExist are logged and
// treated as absence.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		glog.Errorf("error looking for file: %v", err)
	}
	return err == nil
}

// InConfidentialSpace reports whether the attestation token is present.
func (w *Workload) InConfidentialSpace() bool {
	return w != nil && w.tokenFileFound
}

// CreateJSONCredentials returns an external account credential config that exchanges the
// attestation token in sourceFile for access through cred's workload identity pool.
func CreateJSONCredentials(cred KMSCredential, sourceFile string) string {
	config := map[string]any{
		"type":               "external_account",
		"audience":           audiencePrefix + cred.WIPName,
		"subject_token_type": "urn:ietf:params:oauth:token-type:jwt",
		"token_url":          "https://sts.googleapis.com/v1/token",
		"credential_source":  map[string]string{"file": sourceFile},
	}
	if cred.ServiceAccount != "" {
		config["service_account_impersonation_url"] = fmt.Sprintf(impersonationURLFmt, cred.ServiceAccount)
	}
	b, err := json.Marshal(config)
	if err != nil {
		// A map of strings always marshals.
		panic(err)
	}
	return string(b)
}

// FindMatchingCredentials returns the credential config JSON for the first entry whose
// pattern matches keyURI and whose mode allows mode, or "" outside Confidential Space or
// when nothing matches.
func (w *Workload) FindMatchingCredentials(keyURI string, mode Mode) string {
	if !w.InConfidentialSpace() {
		return ""
	}
	for i, cred := range w.credentials {
		if cred.Mode != ModeSealAndUnseal && cred.Mode != mode {
			continue
		}
		if w.patterns[i].MatchString(keyURI) {
			glog.V(1).Infof("Using workload identity pool %v for %v", cred.WIPName, keyURI)
			return CreateJSONCredentials(cred, w.tokenFile)
		}
	}
	return ""
}
