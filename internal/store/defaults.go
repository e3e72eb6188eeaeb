package store

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/smash0190/endlesspool/internal/pool"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var defaultPrograms []pool.Program

func init() {
	var doc struct {
		Programs []pool.Program `yaml:"programs"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &doc); err != nil {
		panic(fmt.Sprintf("store: parse defaults.yaml: %v", err))
	}
	defaultPrograms = doc.Programs
}

// DefaultPrograms returns a fresh copy of the built-in program
// library. Callers may modify the result freely.
func DefaultPrograms() []pool.Program {
	programs := make([]pool.Program, len(defaultPrograms))
	copy(programs, defaultPrograms)
	return programs
}
