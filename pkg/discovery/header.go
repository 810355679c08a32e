package discovery

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/harun/toolns/pkg/registry"
)

// Header is the metadata read from the leading comment block of a tool file.
type Header struct {
	Description string
	Version     string
	Parameters  []registry.ParameterSpec
}

// ParseHeader reads "-- @tag value" lines from the top of a Lua source file.
// Parsing stops at the first line that is neither blank nor a comment.
//
//	-- @description Reverse a string
//	-- @version 1.0
//	-- @param text:string:required Text to reverse
func ParseHeader(src string) (Header, error) {
	var h Header

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}

		comment := strings.TrimSpace(strings.TrimLeft(line, "-"))
		tag, value, _ := strings.Cut(comment, " ")
		value = strings.TrimSpace(value)

		switch tag {
		case "@description":
			h.Description = value
		case "@version":
			h.Version = value
		case "@param":
			p, err := parseParam(value)
			if err != nil {
				return Header{}, err
			}
			h.Parameters = append(h.Parameters, p)
		}
	}
	if err := sc.Err(); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}

	return h, nil
}

// parseParam parses "name:type[:required] description".
func parseParam(s string) (registry.ParameterSpec, error) {
	def, desc, _ := strings.Cut(s, " ")
	parts := strings.Split(def, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return registry.ParameterSpec{}, fmt.Errorf("malformed @param %q, want name:type[:required]", s)
	}

	p := registry.ParameterSpec{
		Name:        parts[0],
		Type:        parts[1],
		Description: strings.TrimSpace(desc),
	}
	if len(parts) == 3 {
		switch parts[2] {
		case "required":
			p.Required = true
		case "optional":
		default:
			return registry.ParameterSpec{}, fmt.Errorf("malformed @param %q, unknown flag %q", s, parts[2])
		}
	}
	return p, nil
}
