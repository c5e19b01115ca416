package schema

import (
	"fmt"
	"strconv"
)

// CompatibilityMode is the registry rule governing which schema changes are
// accepted as non-breaking for a subject.
type CompatibilityMode string

const (
	CompatibilityBackward CompatibilityMode = "BACKWARD"
	CompatibilityForward  CompatibilityMode = "FORWARD"
	CompatibilityFull     CompatibilityMode = "FULL"
)

// VersionLatest requests the newest registered version of a subject.
const VersionLatest = "latest"

// Descriptor is a versioned structural schema for one subject. Descriptors
// are read-shared by all concurrent validations and never mutated after
// creation; a refetch replaces the whole value.
type Descriptor struct {
	Subject       string            `json:"subject"`
	Version       int               `json:"version"`
	RegistryID    int               `json:"registryId"`
	Compatibility CompatibilityMode `json:"compatibilityMode"`
	Definition    *Definition       `json:"definition"`
}

// Definition is the structural field set of a schema.
type Definition struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Fields []*Field `json:"fields,omitempty"`
}

// Field defines one named slot of a definition. A field with neither
// Optional nor a Default is required.
type Field struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Optional bool        `json:"optional,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Enum     []string    `json:"enum,omitempty"`
	Fields   []*Field    `json:"fields,omitempty"` // nested object fields
}

// Required reports whether the field must be present in a payload.
func (f *Field) Required() bool {
	return !f.Optional && f.Default == nil
}

// parseVersion converts a cache version key into a registry version number.
func parseVersion(version string) (int, error) {
	v, err := strconv.Atoi(version)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("schema: invalid version %q", version)
	}
	return v, nil
}

// Validate checks descriptor completeness after a registry fetch.
func (d *Descriptor) Validate() error {
	if d.Subject == "" {
		return fmt.Errorf("schema descriptor: subject is required")
	}
	if d.Version <= 0 {
		return fmt.Errorf("schema descriptor %s: version must be positive", d.Subject)
	}
	if d.Definition == nil {
		return fmt.Errorf("schema descriptor %s: definition is required", d.Subject)
	}
	return nil
}
