package skills

import (
	"os"
	"path/filepath"
)

// ManifestName is the file every skill directory must contain.
const ManifestName = "SKILL.md"

// Discover walks <workingDir>/.opal/skills/*/SKILL.md and
// ~/.opal/skills/*/SKILL.md, returning every successfully parsed skill.
// A skill that fails to parse is skipped rather than failing discovery
// for the whole session: one malformed manifest must not disable every
// other skill.
func Discover(workingDir string) ([]Skill, error) {
	var found []Skill

	dirs := []string{filepath.Join(workingDir, ".opal", "skills")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".opal", "skills"))
	}

	seen := make(map[string]bool)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			manifest := filepath.Join(dir, e.Name(), ManifestName)
			data, err := os.ReadFile(manifest)
			if err != nil {
				continue
			}
			sk, err := Parse(manifest, string(data))
			if err != nil || seen[sk.Name] {
				continue
			}
			seen[sk.Name] = true
			found = append(found, sk)
		}
	}
	return found, nil
}
