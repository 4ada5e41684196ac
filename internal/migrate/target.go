package migrate

import (
	"fmt"
	"path/filepath"

	"github.com/pxtool/px/internal/fsys"
	"github.com/pxtool/px/internal/manifest"
)

func manifestPath(root string) string { return filepath.Join(root, "pyproject.toml") }
func lockfilePath(root string) string { return filepath.Join(root, "px.lock") }

// buildTargetPyproject renders the pyproject.toml contents Run should
// write, applying the production-spec precedence rule (spec §4.8 Source
// precedence) on top of whatever pyproject.toml already exists (or a
// minimal stub, if none does). It returns the rendered document and the
// resolved production spec list.
func buildTargetPyproject(fs fsys.FS, req Request, inv Inventory) ([]byte, []string, error) {
	var base []byte
	var err error
	if inv.HasPyproject {
		base, err = fs.ReadFile(manifestPath(req.Root))
		if err != nil {
			return nil, nil, err
		}
	} else {
		base = []byte(minimalPyproject(filepath.Base(req.Root)))
	}

	var sourceContents []byte
	if req.Source.Source != "" {
		sourceContents, err = fs.ReadFile(req.Source.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("migrate: read --source %s: %w", req.Source.Source, err)
		}
	}

	var requirementsTxt []string
	if inv.HasRequirementsTxt {
		data, err := fs.ReadFile(filepath.Join(req.Root, "requirements.txt"))
		if err != nil {
			return nil, nil, err
		}
		requirementsTxt = ParseRequirementsTxt(data)
	}

	snap, err := manifest.Parse(base, req.Root, manifestPath(req.Root))
	if err != nil {
		return nil, nil, err
	}

	prodSpecs := ResolveProdSpecs(req.Source, sourceContents, snap.Dependencies, requirementsTxt)

	editor := manifest.NewEditor(base)
	if err := editor.WriteDependencies(prodSpecs); err != nil {
		return nil, nil, err
	}
	return editor.Bytes(), prodSpecs, nil
}

func applyPythonOverride(fs fsys.FS, path, version string) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return err
	}
	editor := manifest.NewEditor(data)
	if _, err := editor.SetToolPython(version); err != nil {
		return err
	}
	return fs.WriteFile(path, editor.Bytes(), 0o644)
}

func minimalPyproject(name string) string {
	return fmt.Sprintf("[project]\nname = %q\nversion = \"0.0.0\"\ndependencies = []\n", name)
}
