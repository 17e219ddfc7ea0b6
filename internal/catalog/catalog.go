// Package catalog ships the built-in environment topologies: the oracle
// stacks for the networks stackctl was written to operate. They serve as
// starting points for `stackctl init` and as known-good fixtures for the
// loader.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/stackctl/internal/core/topology"
)

//go:embed manifests/*.yml
var manifestsFS embed.FS

// ErrUnknownEnvironment is returned for names not present in the catalog.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Environments returns the catalog environment names, sorted.
func Environments() []string {
	entries, err := manifestsFS.ReadDir("manifests")
	if err != nil {
		// The embed is part of the binary; a read failure is a build defect.
		panic(fmt.Sprintf("catalog: read embedded manifests: %v", err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yml"))
	}
	sort.Strings(names)
	return names
}

// Manifest returns the raw topology source for a catalog environment.
func Manifest(name string) (string, error) {
	data, err := manifestsFS.ReadFile("manifests/" + name + ".yml")
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return string(data), nil
}

// Load parses a catalog environment into its topology form.
func Load(name string) (*topology.Environment, error) {
	source, err := Manifest(name)
	if err != nil {
		return nil, err
	}
	return topology.Load(name, source)
}
