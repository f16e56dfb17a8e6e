package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// PromptFile observes a prompt file's content and change-detection state
// (mtime + content hash) across iterations.
type PromptFile struct {
	Path    string
	Content string
	ModTime time.Time
	Hash    string
}

// ReadPromptFile loads path and computes its observation fields. A missing
// or empty file is the engine's fatal precondition (step 3 of the
// per-iteration algorithm); callers check len(Content) == 0 themselves so
// this function can also be used for a clean initial read.
func ReadPromptFile(path string) (PromptFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PromptFile{}, fmt.Errorf("engine: stat prompt file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PromptFile{}, fmt.Errorf("engine: read prompt file: %w", err)
	}
	sum := sha256.Sum256(data)
	return PromptFile{
		Path:    path,
		Content: string(data),
		ModTime: info.ModTime(),
		Hash:    hex.EncodeToString(sum[:]),
	}, nil
}

// Changed reports whether other differs in content from pf.
func (pf PromptFile) Changed(other PromptFile) bool {
	return pf.Hash != other.Hash
}
