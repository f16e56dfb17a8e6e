package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-\s\[x\]\sTASK_COMPLETE`),
	regexp.MustCompile(`\[x\]\sTASK_COMPLETE`),
	regexp.MustCompile(`\*\*TASK_COMPLETE\*\*`),
	regexp.MustCompile(`(?m)^TASK_COMPLETE`),
	regexp.MustCompile(`:\sTASK_COMPLETE`),
	regexp.MustCompile(`LOOP_COMPLETE`),
}

// DetectCompletion scans text (the post-execution prompt file content and/or
// the LLM response) for any supported completion marker. Matching is
// case-sensitive on the token, as specified.
func DetectCompletion(text string) bool {
	for _, p := range completionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

var forbiddenEvidenceSubstrings = []string{
	"network request failed",
	"connection refused",
	"econnrefused",
	"timeout",
	"error:",
	"fatal error",
}

// ValidateEvidence implements the validation-evidence gate: at least 3
// files under evidenceDir must have been created strictly after startTime,
// and none of their text contents may contain a forbidden substring
// (case-insensitive). Returns ok=false with a reason when the gate fails.
func ValidateEvidence(evidenceDir string, startTime time.Time) (ok bool, reason string) {
	entries, err := os.ReadDir(evidenceDir)
	if err != nil {
		return false, "validation-evidence directory unreadable: " + err.Error()
	}

	qualifying := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(startTime) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(evidenceDir, e.Name()))
		if err != nil {
			continue
		}
		lc := strings.ToLower(string(data))
		forbidden := false
		for _, sub := range forbiddenEvidenceSubstrings {
			if strings.Contains(lc, sub) {
				forbidden = true
				break
			}
		}
		if forbidden {
			continue
		}
		qualifying++
	}

	if qualifying < 3 {
		return false, "fewer than 3 qualifying validation-evidence files created after start_time"
	}
	return true, ""
}
