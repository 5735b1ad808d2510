package skills

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML block at the top of a skill manifest, delimited
// by "---" lines.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Glob        string `yaml:"glob"`
}

// Parse splits a skill manifest's YAML frontmatter from its markdown
// instructions body. path is recorded on the returned Skill for display
// and re-discovery.
func Parse(path, content string) (Skill, error) {
	const delim = "---"
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, delim) {
		return Skill{}, fmt.Errorf("skills: %s: missing frontmatter", path)
	}
	rest := trimmed[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end == -1 {
		return Skill{}, fmt.Errorf("skills: %s: unterminated frontmatter", path)
	}
	rawFM := rest[:end]
	body := strings.TrimLeft(rest[end+len("\n"+delim):], "\n")

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rawFM), &fm); err != nil {
		return Skill{}, fmt.Errorf("skills: %s: parse frontmatter: %w", path, err)
	}
	if fm.Name == "" {
		return Skill{}, fmt.Errorf("skills: %s: frontmatter missing name", path)
	}

	return Skill{
		Name:         fm.Name,
		Description:  fm.Description,
		Glob:         fm.Glob,
		Instructions: body,
		Path:         path,
	}, nil
}
