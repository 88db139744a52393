// Package workplan validates the WorkPlan schema (spec §3): a plan's goal,
// assumptions, acceptance checks, and tasks, with every dependency and
// acceptance-check reference required to resolve inside the same plan.
// Grounded on the teacher's apps/backend/internal/task/dto request-struct
// conventions (plain exported fields, JSON tags, no reflection-based
// validation library in the pack), hand-rolled here since no JSON-schema
// library appears anywhere in the retrieved examples.
package workplan

import (
	"fmt"
	"sort"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
)

// AcceptanceCheck is one named, independently-verifiable condition a plan
// must satisfy before it is considered done (spec §3).
type AcceptanceCheck struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	Verification string `json:"verification"`
	Required     bool   `json:"required"`
}

// Acceptance bundles the plan's overall definition of done with its
// individual checks (spec §3).
type Acceptance struct {
	DefinitionOfDone string            `json:"definitionOfDone"`
	Checks           []AcceptanceCheck `json:"checks"`
}

// Task is one unit of work in a plan (spec §3).
type Task struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Priority         int      `json:"priority"`
	Dependencies     []string `json:"dependencies"`
	Risks            []string `json:"risks"`
	AcceptanceChecks []string `json:"acceptanceChecks"`
}

// WorkPlan is the schema spec §3 names: a goal plus its assumptions,
// acceptance criteria, and task breakdown, validated before scheduling.
type WorkPlan struct {
	SchemaVersion int        `json:"schemaVersion"`
	Goal          string     `json:"goal"`
	Assumptions   []string   `json:"assumptions"`
	Acceptance    Acceptance `json:"acceptance"`
	Tasks         []Task     `json:"tasks"`
}

// Validate checks every structural invariant spec §3 requires: a non-empty
// goal, unique task ids, every task dependency resolving to another task in
// the same plan, every acceptanceCheck reference resolving to a declared
// AcceptanceCheck id, and no dependency cycle. A dependency naming no task
// in the plan is returned as DependencyUnresolved; every other failure is
// returned as ConflictingState, since an invalid WorkPlan is a precondition
// failure, not a missing resource or a plugin fault.
func (p WorkPlan) Validate() error {
	if p.Goal == "" {
		return apperrors.ConflictingStatef("work plan goal must not be empty")
	}
	if len(p.Tasks) == 0 {
		return apperrors.ConflictingStatef("work plan must declare at least one task")
	}

	taskIDs := make(map[string]bool, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.ID == "" {
			return apperrors.ConflictingStatef("task missing id")
		}
		if taskIDs[task.ID] {
			return apperrors.ConflictingStatef("duplicate task id %q", task.ID)
		}
		taskIDs[task.ID] = true
	}

	checkIDs := make(map[string]bool, len(p.Acceptance.Checks))
	for _, check := range p.Acceptance.Checks {
		if check.ID == "" {
			return apperrors.ConflictingStatef("acceptance check missing id")
		}
		if checkIDs[check.ID] {
			return apperrors.ConflictingStatef("duplicate acceptance check id %q", check.ID)
		}
		checkIDs[check.ID] = true
	}

	for _, task := range p.Tasks {
		for _, dep := range task.Dependencies {
			if !taskIDs[dep] {
				return apperrors.DependencyUnresolvedf(task.ID, dep)
			}
			if dep == task.ID {
				return apperrors.ConflictingStatef("task %q cannot depend on itself", task.ID)
			}
		}
		for _, ref := range task.AcceptanceChecks {
			if !checkIDs[ref] {
				return apperrors.ConflictingStatef("task %q references unknown acceptance check %q", task.ID, ref)
			}
		}
	}

	if err := detectCycle(p.Tasks); err != nil {
		return err
	}

	return nil
}

// detectCycle reports a ConflictingState if the task dependency graph
// contains a cycle, via a standard three-color DFS. Deterministic traversal
// order (tasks sorted by id) keeps the reported cycle stable across calls.
func detectCycle(tasks []Task) error {
	byID := make(map[string]Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		order = append(order, t.ID)
	}
	sort.Strings(order)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)
		deps := append([]string(nil), byID[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			case gray:
				return apperrors.ConflictingStatef("dependency cycle detected: %v", append(path, dep))
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range order {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// String renders a compact identifying label for logging (e.g.
// "plan:build-checkout (3 tasks)").
func (p WorkPlan) String() string {
	return fmt.Sprintf("plan:%s (%d tasks)", p.Goal, len(p.Tasks))
}
