package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Resinat/Relayd/internal/availability"
	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/relay"
)

// Bootstrap is the optional YAML file read once at startup. It seeds state
// that the API can change later.
type Bootstrap struct {
	Overrides    []relay.Override   `yaml:"overrides"`
	Profiles     []profile.Spec     `yaml:"profiles"`
	Availability availability.State `yaml:"availability"`
}

// LoadBootstrapFile reads and validates the bootstrap file at path. An empty
// path yields an empty Bootstrap.
func LoadBootstrapFile(path string) (*Bootstrap, error) {
	if path == "" {
		return &Bootstrap{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}
	b, err := ParseBootstrap(data)
	if err != nil {
		return nil, fmt.Errorf("bootstrap file %s: %w", path, err)
	}
	return b, nil
}

// ParseBootstrap decodes a bootstrap document. Unknown keys are rejected and
// every invalid override or profile is reported.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var b Bootstrap
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var errs error
	seenHosts := make(map[string]struct{}, len(b.Overrides))
	for _, o := range b.Overrides {
		if err := o.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := seenHosts[o.Hostname]; dup {
			errs = multierr.Append(errs, fmt.Errorf("override %s: duplicate hostname", o.Hostname))
		}
		seenHosts[o.Hostname] = struct{}{}
	}

	seenNames := make(map[string]struct{}, len(b.Profiles))
	for i, spec := range b.Profiles {
		if err := spec.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("profile #%d: %w", i+1, err))
			continue
		}
		if spec.Name == profile.DefaultName {
			continue
		}
		if _, dup := seenNames[spec.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("profile %q: duplicate name", spec.Name))
		}
		seenNames[spec.Name] = struct{}{}
	}
	if errs != nil {
		return nil, errs
	}
	return &b, nil
}
