package migrate

import "github.com/pelletier/go-toml/v2"

func pyprojectDeclaresDeps(data []byte) bool {
	var top map[string]any
	if err := toml.Unmarshal(data, &top); err != nil {
		return false
	}
	project, ok := top["project"].(map[string]any)
	if !ok {
		return false
	}
	deps, ok := project["dependencies"].([]any)
	return ok && len(deps) > 0
}

func detectForeignToolSections(data []byte) []string {
	var top map[string]any
	if err := toml.Unmarshal(data, &top); err != nil {
		return nil
	}
	tool, ok := top["tool"].(map[string]any)
	if !ok {
		return nil
	}
	var found []string
	for _, name := range foreignToolNames {
		if _, ok := tool[name]; ok {
			found = append(found, name)
		}
	}
	return found
}
