package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"turfwatch/internal/types"
)

// LoadFile reads one JSON rule document: a top-level array of rule
// specifications. Definitions are returned unvalidated; NewCatalog is the
// validation gate.
func LoadFile(path string) ([]types.RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCatalogInvalid,
			fmt.Sprintf("cannot read rule document %s", path), err)
	}

	var specs []types.RuleSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, types.NewAppError(types.ErrCodeCatalogInvalid,
			fmt.Sprintf("rule document %s is not a JSON rule array", path), err)
	}
	return specs, nil
}

// Load assembles the startup catalog: the builtin rules first, then any
// extra JSON rule documents appended in the order given. Extra documents
// may add rules but never replace builtins; a colliding id fails catalog
// construction.
func Load(extraFiles ...string) (*Catalog, error) {
	specs := Builtin()
	for _, path := range extraFiles {
		extra, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, extra...)
	}
	return NewCatalog(specs)
}
