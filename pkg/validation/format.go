package validation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML header SKILL.md files carry between "---" lines.
type frontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// checkFormat validates a SKILL.md document's front matter (spec.md §4.7
// step 0: name and description are required). A format-invalid skill is
// still ingested; the caller records the errors on the Skill row rather
// than rejecting upload.
func checkFormat(skillMD string) (valid bool, errs []string, warnings []string) {
	fm, body, err := splitFrontMatter(skillMD)
	if err != nil {
		return false, []string{err.Error()}, nil
	}

	if strings.TrimSpace(fm.Name) == "" {
		errs = append(errs, "front matter is missing required field 'name'")
	}
	if strings.TrimSpace(fm.Description) == "" {
		errs = append(errs, "front matter is missing required field 'description'")
	}
	if strings.TrimSpace(body) == "" {
		warnings = append(warnings, "SKILL.md body is empty")
	}

	return len(errs) == 0, errs, warnings
}

// ParseFrontMatter exposes splitFrontMatter's name/description extraction
// to pkg/api, which needs them at skill-upload time, before any validation
// pipeline has run.
func ParseFrontMatter(skillMD string) (name, description string, err error) {
	fm, _, err := splitFrontMatter(skillMD)
	if err != nil {
		return "", "", err
	}
	return fm.Name, fm.Description, nil
}

// splitFrontMatter parses the "---\n<yaml>\n---\n<body>" shape.
func splitFrontMatter(doc string) (frontMatter, string, error) {
	var fm frontMatter
	const delim = "---"

	doc = strings.TrimLeft(doc, "\r\n")
	if !strings.HasPrefix(doc, delim) {
		return fm, "", fmt.Errorf("SKILL.md does not start with a '---' front-matter block")
	}

	rest := doc[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end == -1 {
		return fm, "", fmt.Errorf("SKILL.md front-matter block is not terminated with '---'")
	}

	yamlBlock := rest[:end]
	body := rest[end+len("\n"+delim):]

	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return fm, "", fmt.Errorf("parsing front matter: %w", err)
	}
	return fm, body, nil
}
