package skillbook

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	skillsDirName = ".skills"
	skillFileName = "SKILL.md"

	maxTitleLen = 64
	maxBodyLen  = 8192
)

// DiscoverError captures a load or parse failure for a single seed skill.
type DiscoverError struct {
	Path    string
	Message string
}

// DiscoverOutcome is the aggregated result of a seed-skill discovery pass.
type DiscoverOutcome struct {
	Skills []Skill
	Errors []DiscoverError
}

// DiscoverSeeds walks <dir>/.skills/*/SKILL.md and parses each as a seed
// skill. It is the startup-time supplement to the persisted skillbook: an
// operator can ship starter skills alongside the prompt file. Discovered
// skills are merged into the persisted skillbook by the caller on first
// load only (see Worker.Load).
func DiscoverSeeds(dir string) DiscoverOutcome {
	var outcome DiscoverOutcome
	if strings.TrimSpace(dir) == "" {
		return outcome
	}
	skillsPath := filepath.Join(dir, skillsDirName)
	info, err := os.Stat(skillsPath)
	if err != nil || !info.IsDir() {
		return outcome
	}

	for _, path := range discoverSkillFiles(skillsPath) {
		sk, err := parseSeedSkill(path)
		if err != nil {
			outcome.Errors = append(outcome.Errors, DiscoverError{Path: path, Message: err.Error()})
			continue
		}
		outcome.Skills = append(outcome.Skills, sk)
	}
	return outcome
}

func discoverSkillFiles(root string) []string {
	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == skillFileName {
			paths = append(paths, path)
		}
		return nil
	})
	return paths
}

type seedFrontmatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

func parseSeedSkill(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("read: %w", err)
	}
	fm, body, err := extractSeedFrontmatter(string(data))
	if err != nil {
		return Skill{}, err
	}

	title := strings.TrimSpace(fm.Title)
	if title == "" {
		return Skill{}, fmt.Errorf("missing field `title`")
	}
	if len([]rune(title)) > maxTitleLen {
		return Skill{}, fmt.Errorf("title exceeds %d characters", maxTitleLen)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Skill{}, fmt.Errorf("skill body is empty")
	}
	if len(body) > maxBodyLen {
		body = body[:maxBodyLen]
	}

	now := time.Now().UTC()
	return Skill{
		ID:                 seedID(path),
		Title:              title,
		Body:               body,
		Tags:               fm.Tags,
		SuccessCorrelation: 0.5, // neutral prior; no outcomes observed yet
		UsageCount:         0,
		CreatedAt:          now,
		LastUsedAt:         now,
	}, nil
}

func seedID(path string) string {
	return "seed:" + filepath.Clean(path)
}

func extractSeedFrontmatter(contents string) (seedFrontmatter, string, error) {
	const delim = "---"
	lines := strings.Split(contents, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delim {
		return seedFrontmatter{}, "", fmt.Errorf("missing YAML frontmatter delimited by ---")
	}
	var fmLines []string
	i := 1
	for ; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			break
		}
		fmLines = append(fmLines, lines[i])
	}
	if len(fmLines) == 0 {
		return seedFrontmatter{}, "", fmt.Errorf("missing YAML frontmatter delimited by ---")
	}
	var fm seedFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &fm); err != nil {
		return seedFrontmatter{}, "", fmt.Errorf("invalid YAML: %w", err)
	}
	body := ""
	if i+1 < len(lines) {
		body = strings.Join(lines[i+1:], "\n")
	}
	return fm, body, nil
}
