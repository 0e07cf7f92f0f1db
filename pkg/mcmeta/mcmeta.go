// SPDX-License-Identifier: MPL-2.0

// Package mcmeta reads pack.mcmeta manifests and decides whether a pack is
// compatible with a project's pack format.
package mcmeta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// FileName is the manifest every pack carries at its root.
const FileName = "pack.mcmeta"

var (
	// ErrInvalidManifest is wrapped by every manifest parse failure.
	ErrInvalidManifest = errors.New("invalid pack.mcmeta")
	// ErrIncompatible is wrapped by IncompatibleError.
	ErrIncompatible = errors.New("incompatible pack format")
)

type (
	// Manifest is the decoded subset of pack.mcmeta the build cares about.
	Manifest struct {
		PackFormat int
		// SupportedFormats is nil when the manifest does not declare a range.
		SupportedFormats *FormatRange
		Description      json.RawMessage
	}

	// FormatRange is an inclusive pack format range.
	FormatRange struct {
		Min int
		Max int
	}

	// IncompatibleError reports a failed compatibility check for a named dependency.
	IncompatibleError struct {
		Dependency string
		Path       string
		Err        error
	}
)

// Contains reports whether format lies within r.
func (r FormatRange) Contains(format int) bool {
	return r.Min <= format && format <= r.Max
}

// String renders the range as "[min, max]".
func (r FormatRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// Error implements the error interface.
func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("Compatibility check for dependency '%s' failed: %v", e.Dependency, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IncompatibleError) Unwrap() error { return e.Err }

// ReadFile parses the manifest at path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s' not found or unreadable: %w", ErrInvalidManifest, path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("'%s': %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest bytes. The pack object and an integer pack_format
// are required; supported_formats may be an integer, a [min, max] pair or an
// object with min_inclusive and max_inclusive.
func Parse(data []byte) (*Manifest, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	rawPack, ok := root["pack"]
	if !ok {
		return nil, fmt.Errorf("%w: missing the 'pack' property", ErrInvalidManifest)
	}
	var pack map[string]json.RawMessage
	if err := json.Unmarshal(rawPack, &pack); err != nil {
		return nil, fmt.Errorf("%w: 'pack' is not an object", ErrInvalidManifest)
	}

	rawFormat, ok := pack["pack_format"]
	if !ok {
		return nil, fmt.Errorf("%w: missing 'pack.pack_format'", ErrInvalidManifest)
	}
	format, ok := asInt(rawFormat)
	if !ok {
		return nil, fmt.Errorf("%w: 'pack.pack_format' is not an integer", ErrInvalidManifest)
	}

	m := &Manifest{PackFormat: format, Description: pack["description"]}

	if rawSupported, ok := pack["supported_formats"]; ok {
		r, err := parseRange(rawSupported)
		if err != nil {
			return nil, err
		}
		m.SupportedFormats = &r
	}
	return m, nil
}

func parseRange(raw json.RawMessage) (FormatRange, error) {
	invalid := fmt.Errorf("%w: invalid 'pack.supported_formats' property", ErrInvalidManifest)

	if v, ok := asInt(raw); ok {
		return FormatRange{Min: v, Max: v}, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) != 2 {
			return FormatRange{}, invalid
		}
		lo, okLo := asInt(list[0])
		hi, okHi := asInt(list[1])
		if !okLo || !okHi {
			return FormatRange{}, invalid
		}
		return FormatRange{Min: lo, Max: hi}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj) == 2 {
		lo, okLo := asInt(obj["min_inclusive"])
		hi, okHi := asInt(obj["max_inclusive"])
		if okLo && okHi {
			return FormatRange{Min: lo, Max: hi}, nil
		}
	}
	return FormatRange{}, invalid
}

// asInt accepts only JSON integer literals.
func asInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

// Formats describes what the manifest supports, for messages.
func (m *Manifest) Formats() string {
	if m.SupportedFormats != nil {
		return m.SupportedFormats.String()
	}
	return strconv.Itoa(m.PackFormat)
}

// CheckCompatible returns nil when a project with projectFormat can use the pack
// described by m. With a declared range, pack_format must lie in the range and
// so must projectFormat. Without one the formats must be equal.
func (m *Manifest) CheckCompatible(projectFormat int) error {
	if r := m.SupportedFormats; r != nil {
		if !r.Contains(m.PackFormat) {
			return fmt.Errorf("%w: 'supported_formats' %s does not contain 'pack_format' %d",
				ErrInvalidManifest, r, m.PackFormat)
		}
		if !r.Contains(projectFormat) {
			return fmt.Errorf("%w: supports pack format(s) %s, making it incompatible with the project's pack format %d",
				ErrIncompatible, r, projectFormat)
		}
		return nil
	}
	if m.PackFormat != projectFormat {
		return fmt.Errorf("%w: supports pack format(s) %d, making it incompatible with the project's pack format %d",
			ErrIncompatible, m.PackFormat, projectFormat)
	}
	return nil
}

// Check reads the manifest at path and verifies it against projectFormat,
// returning an *IncompatibleError naming dependency on any failure.
func Check(dependency, path string, projectFormat int) error {
	m, err := ReadFile(path)
	if err == nil {
		err = m.CheckCompatible(projectFormat)
	}
	if err != nil {
		return &IncompatibleError{Dependency: dependency, Path: path, Err: err}
	}
	return nil
}
