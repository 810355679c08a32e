package toolstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/registry"
	"github.com/harun/toolns/pkg/toolerr"
)

// DocumentVersion is the version of the file format.
const DocumentVersion = 1

// Document is the file representation of a store.
type Document struct {
	Version int      `json:"version" yaml:"version"`
	Tools   []Record `json:"tools" yaml:"tools"`
}

// Record is one persisted tool version.
type Record struct {
	ID          string                   `json:"id" yaml:"id"`
	Namespace   string                   `json:"namespace" yaml:"namespace"`
	User        string                   `json:"user" yaml:"user"`
	Package     string                   `json:"package" yaml:"package"`
	Name        string                   `json:"name" yaml:"name"`
	Version     string                   `json:"version" yaml:"version"`
	Description string                   `json:"description" yaml:"description"`
	Script      string                   `json:"script" yaml:"script"`
	Parameters  []registry.ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Checksum    string                   `json:"checksum" yaml:"checksum"`
	CreatedAt   time.Time                `json:"created_at" yaml:"created_at"`
}

// recordNamespace is the UUID namespace for record IDs. IDs are derived
// from the tool path so they stay stable across saves.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("toolns:tool"))

// NewRecord converts a user tool definition.
func NewRecord(def registry.Definition) Record {
	a := def.Address
	return Record{
		ID:          uuid.NewSHA1(recordNamespace, []byte(a.String())).String(),
		Namespace:   string(a.Namespace),
		User:        a.User,
		Package:     a.Package,
		Name:        a.Name,
		Version:     a.Version.Value(),
		Description: def.Description,
		Script:      def.Script,
		Parameters:  def.Parameters,
		Checksum:    def.Checksum(),
		CreatedAt:   def.CreatedAt,
	}
}

func (r Record) key() string {
	return r.Namespace + "/" + r.User + "/" + r.Package + "/" + r.Name + ":" + r.Version
}

// Definition converts the record back, verifying namespace and checksum.
func (r Record) Definition() (registry.Definition, error) {
	ns := address.Namespace(r.Namespace)
	switch ns {
	case "", address.NamespaceUser:
	case address.NamespaceBin, address.NamespaceSbin, address.NamespaceDocs:
		return registry.Definition{}, toolerr.New(toolerr.KindInvalidArguments,
			"record %s: system namespace /%s cannot be persisted", r.key(), ns)
	default:
		return registry.Definition{}, toolerr.New(toolerr.KindUnknownNamespace,
			"record %s: unknown namespace %q", r.key(), r.Namespace)
	}

	addr := address.User(r.User, r.Package, r.Name, address.Exact(r.Version))
	if err := addr.Validate(); err != nil {
		return registry.Definition{}, fmt.Errorf("record %s: %w", r.key(), err)
	}

	def := registry.Definition{
		Address:     addr,
		Description: r.Description,
		Script:      r.Script,
		Parameters:  r.Parameters,
		Source:      registry.SourceStore,
		CreatedAt:   r.CreatedAt,
	}
	if r.Checksum != "" && r.Checksum != def.Checksum() {
		return registry.Definition{}, fmt.Errorf("record %s: %w", r.key(), ErrChecksumMismatch)
	}
	return def, nil
}

// definitions converts records, rejecting duplicate keys.
func definitions(records []Record) ([]registry.Definition, error) {
	seen := make(map[string]bool, len(records))
	defs := make([]registry.Definition, 0, len(records))
	for _, r := range records {
		def, err := r.Definition()
		if err != nil {
			return nil, err
		}
		k := def.Address.String()
		if seen[k] {
			return nil, fmt.Errorf("record %s: %w", k, ErrDuplicateRecord)
		}
		seen[k] = true
		defs = append(defs, def)
	}
	return defs, nil
}
