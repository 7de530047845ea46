// Package file provides TOML-backed configuration for kiln, stored in
// the user's kiln config directory.
package file
