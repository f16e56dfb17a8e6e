package engine

import (
	"regexp"
	"strings"
)

// TaskStatus is a checkbox task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// Task is one GitHub-flavored checkbox line parsed from the prompt file.
type Task struct {
	Text   string
	Status TaskStatus
}

var checkboxLine = regexp.MustCompile(`^\s*-\s\[( |x|X)\]\s*(.*)$`)

// ParseTasks extracts checkbox lines from content in document order.
// "- [ ]" becomes pending, "- [x]"/"- [X]" becomes done.
func ParseTasks(content string) []Task {
	var tasks []Task
	for _, line := range strings.Split(content, "\n") {
		m := checkboxLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		status := TaskPending
		if strings.EqualFold(m[1], "x") {
			status = TaskDone
		}
		tasks = append(tasks, Task{Text: strings.TrimSpace(m[2]), Status: status})
	}
	return tasks
}

// TaskQueue tracks task state across iterations, applying the in-progress/
// done transition rules: the first pending item becomes in_progress at
// iteration start; if its text is still present as pending next iteration
// but changed in place, it stays in_progress; if it disappeared entirely,
// it's marked done. Order is preserved from the source document.
type TaskQueue struct {
	Tasks []Task
}

// NewTaskQueue builds a queue from an initial parse.
func NewTaskQueue(content string) *TaskQueue {
	return &TaskQueue{Tasks: ParseTasks(content)}
}

// IsEmpty reports whether no tasks have been extracted yet.
func (q *TaskQueue) IsEmpty() bool { return len(q.Tasks) == 0 }

// AdvanceInProgress marks the first pending task as in_progress, returning
// its text (or "" if there is none).
func (q *TaskQueue) AdvanceInProgress() string {
	for i := range q.Tasks {
		if q.Tasks[i].Status == TaskPending {
			q.Tasks[i].Status = TaskInProgress
			return q.Tasks[i].Text
		}
	}
	return ""
}

// Reconcile re-parses the prompt file's current content and reconciles it
// against q's existing state per the transition rules, preserving order.
func (q *TaskQueue) Reconcile(newContent string) {
	fresh := ParseTasks(newContent)

	prevByOrdinal := q.Tasks
	var merged []Task

	matchedPrev := make([]bool, len(prevByOrdinal))
	for _, f := range fresh {
		matched := -1
		for i, p := range prevByOrdinal {
			if matchedPrev[i] {
				continue
			}
			if p.Status == TaskDone && f.Status == TaskDone {
				matched = i
				break
			}
			if p.Status != TaskDone && f.Status != TaskDone {
				matched = i
				break
			}
		}
		if matched >= 0 {
			matchedPrev[matched] = true
			prev := prevByOrdinal[matched]
			status := f.Status
			if prev.Status == TaskInProgress && f.Status == TaskPending {
				// still open (possibly edited in place) -> remains in_progress
				status = TaskInProgress
			}
			merged = append(merged, Task{Text: f.Text, Status: status})
		} else {
			merged = append(merged, f)
		}
	}

	// Any previously in_progress task whose text vanished entirely from the
	// fresh parse is considered completed (its content disappeared).
	for i, p := range prevByOrdinal {
		if matchedPrev[i] {
			continue
		}
		if p.Status == TaskInProgress || p.Status == TaskPending {
			merged = append(merged, Task{Text: p.Text, Status: TaskDone})
		}
	}

	q.Tasks = merged
}
