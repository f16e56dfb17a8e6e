// Package subagent implements delegation of an iteration to one or more
// specialized subagent processes, coordinated via files in a coordination
// directory and folded back into the engine's notion of iteration success.
package subagent

import "strings"

// SubagentProfile is a configured specialist: its prompt template, the MCP
// tools it may use, and the subprocess that runs it. Routing keywords live
// in routeTable, not on the profile.
type SubagentProfile struct {
	Type            string // "analyst" | "validator" | "researcher" | "implementer"
	PromptTemplate  string // substituted with {{task}}, {{criteria}}, {{skills}}, {{tools}}, {{coordination_dir}}
	RequiredMCPs    []string
	OptionalMCPs    []string
	Binary          string // subprocess to exec for this profile
	Args            []string
}

// routeTable is the fixed keyword-to-profile priority table from the
// selection heuristic: first matching row wins.
var routeTable = []struct {
	profile  string
	keywords []string
}{
	{"analyst", []string{"debug", "analyze", "investigate", "root cause"}},
	{"validator", []string{"test", "validate", "verify", "check"}},
	{"researcher", []string{"research", "find", "search", "look up"}},
}

const defaultProfile = "implementer"

// Route selects a subagent profile type from the active prompt text,
// case-insensitive, honoring the fixed priority order. Unmatched text
// routes to "implementer".
func Route(promptText string) string {
	lc := strings.ToLower(promptText)
	for _, row := range routeTable {
		for _, kw := range row.keywords {
			if strings.Contains(lc, kw) {
				return row.profile
			}
		}
	}
	return defaultProfile
}

// DefaultProfiles returns the four built-in profiles with templates tuned
// to their role. Callers may override Binary/Args/MCPs per deployment.
func DefaultProfiles() map[string]SubagentProfile {
	return map[string]SubagentProfile{
		"analyst": {
			Type: "analyst",
			PromptTemplate: "You are the analyst subagent. Investigate the root cause of the " +
				"following problem; do not attempt a fix.\n\nTask:\n{{task}}\n\nCriteria:\n{{criteria}}\n\n" +
				"Relevant skills:\n{{skills}}\n\nAvailable tools:\n{{tools}}\n\n" +
				"Coordination directory: {{coordination_dir}}\n" +
				"Write your verdict JSON to results/analyst.json.",
		},
		"validator": {
			Type: "validator",
			PromptTemplate: "You are the validator subagent. Verify whether the stated criteria are " +
				"met; run the project's own checks where possible.\n\nTask:\n{{task}}\n\nCriteria:\n{{criteria}}\n\n" +
				"Relevant skills:\n{{skills}}\n\nAvailable tools:\n{{tools}}\n\n" +
				"Coordination directory: {{coordination_dir}}\n" +
				"Write your verdict JSON to results/validator.json.",
			RequiredMCPs: []string{},
		},
		"researcher": {
			Type: "researcher",
			PromptTemplate: "You are the researcher subagent. Find authoritative information relevant " +
				"to the task; cite sources.\n\nTask:\n{{task}}\n\nCriteria:\n{{criteria}}\n\n" +
				"Relevant skills:\n{{skills}}\n\nAvailable tools:\n{{tools}}\n\n" +
				"Coordination directory: {{coordination_dir}}\n" +
				"Write your verdict JSON to results/researcher.json.",
			OptionalMCPs: []string{"web-fetch"},
		},
		"implementer": {
			Type: "implementer",
			PromptTemplate: "You are the implementer subagent. Make forward progress on the task.\n\n" +
				"Task:\n{{task}}\n\nCriteria:\n{{criteria}}\n\nRelevant skills:\n{{skills}}\n\n" +
				"Available tools:\n{{tools}}\n\nCoordination directory: {{coordination_dir}}\n" +
				"Write your verdict JSON to results/implementer.json.",
		},
	}
}

// RenderPrompt substitutes the profile's template placeholders.
func RenderPrompt(p SubagentProfile, task, criteria, skills, tools, coordinationDir string) string {
	r := strings.NewReplacer(
		"{{task}}", task,
		"{{criteria}}", criteria,
		"{{skills}}", skills,
		"{{tools}}", tools,
		"{{coordination_dir}}", coordinationDir,
	)
	return r.Replace(p.PromptTemplate)
}
