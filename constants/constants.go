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

// Package constants contains values shared by the library and its binaries.
package constants

const (
	// Product names the tool in user agents and output.
	Product = "shardlock"

	// Version is the current version, displayed via the `version` subcommand.
	Version = "0.1.0"

	// DefaultConfigName is the name of the configuration file looked up in the user config
	// directory.
	DefaultConfigName = "shardlock.yaml"

	// ShareFileExt is the extension of share files, named <index>.shard.
	ShareFileExt = ".shard"

	// WrappedKeyExt is appended to an encrypted file's name to form its wrapped-DEK sidecar.
	WrappedKeyExt = ".dek"
)
