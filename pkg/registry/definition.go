package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harun/toolns/pkg/address"
)

// Source records where a tool definition came from.
type Source string

const (
	SourceBuiltin   Source = "builtin"
	SourceAPI       Source = "api"
	SourceStore     Source = "store"
	SourceDiscovery Source = "discovery"
)

// Parameter types accepted in a ParameterSpec.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

var validTypes = map[string]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeInteger: true,
	TypeBoolean: true,
	TypeObject:  true,
	TypeArray:   true,
}

// Parameter names become interpreter variables, so they follow identifier rules.
var paramNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ReservedParameter is bound to the table of all supplied arguments and
// cannot be declared by a tool.
const ReservedParameter = "params"

// ParameterSpec describes one named input of a tool.
type ParameterSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Definition is a registered tool.
type Definition struct {
	Address     address.Address
	Description string
	Script      string
	Parameters  []ParameterSpec
	Protected   bool
	Source      Source
	CreatedAt   time.Time
}

// Version returns the concrete version of a user tool, or "" for system tools.
func (d Definition) Version() string {
	return d.Address.Version.Value()
}

// RequiredParameters returns the names of all required parameters in
// declaration order.
func (d Definition) RequiredParameters() []string {
	var names []string
	for _, p := range d.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Checksum returns the hex SHA-256 of the tool script.
func (d Definition) Checksum() string {
	sum := sha256.Sum256([]byte(d.Script))
	return hex.EncodeToString(sum[:])
}

func (d Definition) clone() Definition {
	c := d
	if d.Parameters != nil {
		c.Parameters = append([]ParameterSpec(nil), d.Parameters...)
	}
	return c
}

// validateUserDefinition checks a user tool definition and fills defaults.
func validateUserDefinition(def *Definition) error {
	if err := def.Address.Validate(); err != nil {
		return err
	}
	if def.Address.Version.IsLatest() {
		return fmt.Errorf("tool %s must have an explicit version", def.Address)
	}
	if strings.TrimSpace(def.Script) == "" {
		return fmt.Errorf("tool %s has an empty script", def.Address)
	}

	seen := make(map[string]bool, len(def.Parameters))
	for i := range def.Parameters {
		p := &def.Parameters[i]
		if !paramNameRegex.MatchString(p.Name) {
			return fmt.Errorf("invalid parameter name %q", p.Name)
		}
		if p.Name == ReservedParameter {
			return fmt.Errorf("parameter name %q is reserved", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true

		if p.Type == "" {
			p.Type = TypeString
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("parameter %q has unsupported type %q", p.Name, p.Type)
		}
	}
	return nil
}
