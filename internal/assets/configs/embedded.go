// Package configassets provides the embedded example configuration.
//
// The example is embedded at compile time so 'vigil config example' works
// from an installed binary without any files on disk.
package configassets

import _ "embed"

// ExampleConfig is a commented vigil.yaml listing every setting with its
// default.
//
//go:embed vigil.example.yaml
var ExampleConfig []byte
