// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

const (
	// DeploymentBundle merges the dependency into the built pack.
	DeploymentBundle Deployment = "bundle"
	// DeploymentShip ships the dependency next to the built pack.
	DeploymentShip Deployment = "ship"
	// DeploymentLink only references the dependency.
	DeploymentLink Deployment = "link"
	// DeploymentNone uses the dependency at build time only.
	DeploymentNone Deployment = "none"
)

var (
	// ErrInvalidName is the sentinel error wrapped by InvalidNameError.
	ErrInvalidName = errors.New("invalid dependency name")
	// ErrInvalidDeployment is the sentinel error wrapped by InvalidDeploymentError.
	ErrInvalidDeployment = errors.New("invalid deployment mode")
	// ErrDuplicateName is returned when two configured dependencies share a name.
	ErrDuplicateName = errors.New("duplicate dependency name")
	// ErrMissingManifest is returned when acquired files lack pack.mcmeta at their root.
	ErrMissingManifest = errors.New("missing pack.mcmeta")

	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
)

type (
	// Name identifies a dependency within a project and names its managed directory.
	// It must start with a letter or digit and contain only letters, digits, '.', '_', '+' and '-'.
	Name string

	// InvalidNameError is returned when a Name is not usable as a directory name.
	InvalidNameError struct {
		Value Name
	}

	// Deployment governs how a dependency is packaged later. It does not affect resolution.
	Deployment string

	// InvalidDeploymentError is returned for unknown deployment modes.
	InvalidDeploymentError struct {
		Value Deployment
	}

	// Dependency is one configured dependency.
	Dependency struct {
		Name         Name
		Deployment   Deployment
		VersionCheck bool
		Source       Source

		location string
	}

	// Source is the acquisition strategy of a dependency: *LocalSource,
	// *URLSource or *GitSource.
	Source interface {
		// Kind returns the identity discriminator of the source.
		Kind() Kind
		// Identity returns the persisted fingerprint. It never touches the filesystem.
		Identity() Identity
		// Validate checks the configured fields.
		Validate() error

		// stage materialises the source for placement.
		stage(ctx context.Context, x *Index, name Name) (staged, error)
	}

	// staged is what a Source hands to placement.
	staged struct {
		path        string
		removable   bool
		archiveRoot string
	}

	// AcquireError wraps any failure while acquiring a dependency.
	AcquireError struct {
		Dependency Name
		Op         string
		Err        error
	}
)

// Error implements the error interface.
func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid dependency name %q (must match %s)", e.Value, namePattern)
}

// Unwrap returns ErrInvalidName.
func (e *InvalidNameError) Unwrap() error { return ErrInvalidName }

// Validate returns an *InvalidNameError when n cannot name a managed directory.
func (n Name) Validate() error {
	if !namePattern.MatchString(string(n)) || n == IndexFileName {
		return &InvalidNameError{Value: n}
	}
	return nil
}

// String returns the name.
func (n Name) String() string { return string(n) }

// Error implements the error interface.
func (e *InvalidDeploymentError) Error() string {
	return fmt.Sprintf("invalid deployment mode '%s' (must be bundle, ship, link or none)", e.Value)
}

// Unwrap returns ErrInvalidDeployment.
func (e *InvalidDeploymentError) Unwrap() error { return ErrInvalidDeployment }

// Validate returns an *InvalidDeploymentError for unknown modes.
func (d Deployment) Validate() error {
	switch d {
	case DeploymentBundle, DeploymentShip, DeploymentLink, DeploymentNone:
		return nil
	default:
		return &InvalidDeploymentError{Value: d}
	}
}

// String returns the mode.
func (d Deployment) String() string { return string(d) }

// Error implements the error interface.
func (e *AcquireError) Error() string {
	return fmt.Sprintf("dependency '%s': %s: %v", e.Dependency, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AcquireError) Unwrap() error { return e.Err }

// New builds and validates a Dependency. All problems are reported together.
func New(name Name, deployment Deployment, versionCheck bool, source Source) (*Dependency, error) {
	d := &Dependency{Name: name, Deployment: deployment, VersionCheck: versionCheck, Source: source}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the name, deployment mode and source.
func (d *Dependency) Validate() error {
	var errs []error
	if err := d.Name.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := d.Deployment.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
	}
	if d.Source == nil {
		errs = append(errs, fmt.Errorf("%s: no source configured", d.Name))
	} else if err := d.Source.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
	}
	return errors.Join(errs...)
}

// Identity returns the fingerprint of the dependency's source.
func (d *Dependency) Identity() Identity {
	return d.Source.Identity()
}

// MatchesIdentity reports whether a persisted identity describes the same source.
func (d *Dependency) MatchesIdentity(other Identity) bool {
	return d.Source.Identity().Matches(other)
}

// Location returns the managed directory once the dependency has been resolved
// in this run.
func (d *Dependency) Location() (string, bool) {
	return d.location, d.location != ""
}
