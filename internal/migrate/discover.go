// Package migrate implements the foreign-manifest migration pipeline
// (spec §4.8): discovery of pyproject/setup.cfg/setup.py/requirements/
// uv.lock/poetry.lock inputs, source precedence, conflict detection, and
// a preview/apply flow with backup and rollback.
package migrate

import (
	"path/filepath"

	"github.com/pxtool/px/internal/fsys"
)

// Inventory records which foreign input families are present in a
// project root (spec §4.8 Discovery).
type Inventory struct {
	HasPyproject          bool
	PyprojectHasDeps      bool // [project].dependencies declared
	HasSetupCfg           bool
	HasSetupPy            bool
	HasRequirementsTxt    bool
	HasRequirementsDevTxt bool
	HasUvLock             bool
	HasPoetryLock         bool
	ForeignToolSections   []string // "poetry", "pdm", "hatch", "flit", "rye"
}

var foreignToolNames = []string{"poetry", "pdm", "hatch", "flit", "rye"}

// Discover inspects root for the recognized foreign-manifest families.
func Discover(fs fsys.FS, root string) Inventory {
	exists := func(name string) bool {
		_, err := fs.Stat(filepath.Join(root, name))
		return err == nil
	}
	inv := Inventory{
		HasPyproject:          exists("pyproject.toml"),
		HasSetupCfg:           exists("setup.cfg"),
		HasSetupPy:            exists("setup.py"),
		HasRequirementsTxt:    exists("requirements.txt"),
		HasRequirementsDevTxt: exists("requirements-dev.txt"),
		HasUvLock:             exists("uv.lock"),
		HasPoetryLock:         exists("poetry.lock"),
	}
	if inv.HasPyproject {
		data, err := fs.ReadFile(filepath.Join(root, "pyproject.toml"))
		if err == nil {
			inv.PyprojectHasDeps = pyprojectDeclaresDeps(data)
			inv.ForeignToolSections = detectForeignToolSections(data)
		}
	}
	return inv
}

// ForeignOwnership reports whether another tool (poetry/pdm/etc.) also
// owns a dependency array in pyproject.toml — a conflict the apply path
// must refuse on (spec §4.8).
func (inv Inventory) ForeignOwnership() bool {
	return len(inv.ForeignToolSections) > 0 && inv.PyprojectHasDeps
}
