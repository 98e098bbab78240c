package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// node wraps a step with its explicit adjacency lists. Both lists hold step
// IDs, never pointers, so nodes from a prior execution are never shared.
type node struct {
	step         *Step
	dependencies []string // IDs this node waits on
	dependents   []string // IDs waiting on this node
}

// DAG is a dependency graph of steps. Built once per execution from a flat
// step list via BuildGraph.
type DAG struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// BuildGraph constructs a DAG from a flat step list in O(n). It rejects
// duplicate IDs and dependencies on unknown IDs; cycle detection is a
// separate, mandatory pre-execution pass (DetectCycle).
func BuildGraph(steps []*Step) (*DAG, error) {
	d := &DAG{nodes: make(map[string]*node, len(steps))}

	for _, step := range steps {
		if _, exists := d.nodes[step.ID]; exists {
			return nil, fmt.Errorf("step with ID %q already exists", step.ID)
		}
		d.nodes[step.ID] = &node{
			step:         step,
			dependencies: append([]string(nil), step.DependsOn...),
		}
	}

	for id, n := range d.nodes {
		for _, depID := range n.dependencies {
			dep, exists := d.nodes[depID]
			if !exists {
				return nil, fmt.Errorf("step %q depends on non-existent step %q", id, depID)
			}
			dep.dependents = append(dep.dependents, id)
		}
	}

	return d, nil
}

// AddStep inserts a new step into an existing graph, wiring both adjacency
// lists. Used when a reflection plan adjustment appends follow-up steps; the
// caller must re-run DetectCycle afterwards.
func (d *DAG) AddStep(step *Step) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[step.ID]; exists {
		return fmt.Errorf("step with ID %q already exists", step.ID)
	}
	for _, depID := range step.DependsOn {
		if _, exists := d.nodes[depID]; !exists {
			return fmt.Errorf("step %q depends on non-existent step %q", step.ID, depID)
		}
	}

	d.nodes[step.ID] = &node{
		step:         step,
		dependencies: append([]string(nil), step.DependsOn...),
	}
	for _, depID := range step.DependsOn {
		d.nodes[depID].dependents = append(d.nodes[depID].dependents, step.ID)
	}
	return nil
}

// DetectCycle walks the graph iteratively, tracking the nodes currently on
// the DFS path with an explicit marker set (no recursion). It returns the
// members of the first cycle found, or nil for a valid DAG.
func (d *DAG) DetectCycle() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	const (
		unvisited = 0
		onPath    = 1
		done      = 2
	)
	state := make(map[string]int, len(d.nodes))

	// Deterministic start order keeps error output stable.
	ids := d.sortedIDsLocked()

	type frame struct {
		id   string
		next int // index into dependencies not yet explored
	}

	for _, start := range ids {
		if state[start] != unvisited {
			continue
		}

		stack := []frame{{id: start}}
		state[start] = onPath

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := d.nodes[top.id].dependencies

			if top.next >= len(deps) {
				state[top.id] = done
				stack = stack[:len(stack)-1]
				continue
			}

			depID := deps[top.next]
			top.next++

			switch state[depID] {
			case onPath:
				// depID is revisited while still in progress: every frame
				// from its position on the stack forward is in the cycle.
				cycle := []string{}
				for i := range stack {
					if stack[i].id == depID || len(cycle) > 0 {
						cycle = append(cycle, stack[i].id)
					}
				}
				return cycle
			case unvisited:
				state[depID] = onPath
				stack = append(stack, frame{id: depID})
			}
		}
	}

	return nil
}

// Order returns a topological ordering of step IDs, or an error naming the
// cycle participants. Used for deterministic reporting and as a second
// structural check alongside DetectCycle.
func (d *DAG) Order() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var edges []toposort.Edge
	for id, n := range d.nodes {
		if len(n.dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
		} else {
			for _, depID := range n.dependencies {
				edges = append(edges, toposort.Edge{depID, id})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.nodes) {
		missing := []string{}
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range d.nodes {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d steps: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Ready returns steps whose dependencies are all resolved and that have not
// started. When tolerateFailures is true a failed dependency counts as
// resolved; otherwise dependents of failures stay blocked (the executor
// skips their closure explicitly).
func (d *DAG) Ready(tolerateFailures bool) []*Step {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ready := []*Step{}
	for _, n := range d.nodes {
		if n.step.Status != StepPending && n.step.Status != StepReady {
			continue
		}

		resolved := true
		for _, depID := range n.dependencies {
			dep := d.nodes[depID]
			switch dep.step.Status {
			case StepCompleted, StepSkipped:
				// resolved
			case StepFailed:
				if !tolerateFailures {
					resolved = false
				}
			default:
				resolved = false
			}
			if !resolved {
				break
			}
		}

		if resolved {
			ready = append(ready, cloneStep(n.step))
		}
	}
	return ready
}

// DownstreamClosure returns all transitive dependents of the given step.
func (d *DAG) DownstreamClosure(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	queue := append([]string(nil), d.dependentsLocked(id)...)
	closure := []string{}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		closure = append(closure, next)
		queue = append(queue, d.dependentsLocked(next)...)
	}
	return closure
}

func (d *DAG) dependentsLocked(id string) []string {
	if n, exists := d.nodes[id]; exists {
		return n.dependents
	}
	return nil
}

// SetStatus updates a step's status. Output and err apply to completed and
// failed transitions respectively.
func (d *DAG) SetStatus(id string, status StepStatus, output string, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[id]
	if !exists {
		return fmt.Errorf("step %q not found", id)
	}

	n.step.Status = status
	if status == StepCompleted {
		n.step.Output = output
	}
	if status == StepFailed {
		n.step.Err = err
	}
	return nil
}

// Get returns a copy of the step with the given ID.
func (d *DAG) Get(id string) (*Step, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, exists := d.nodes[id]
	if !exists {
		return nil, false
	}
	return cloneStep(n.step), true
}

// Steps returns copies of all steps.
func (d *DAG) Steps() []*Step {
	d.mu.RLock()
	defer d.mu.RUnlock()

	steps := make([]*Step, 0, len(d.nodes))
	for _, n := range d.nodes {
		steps = append(steps, cloneStep(n.step))
	}
	return steps
}

// Counts returns the number of steps in each terminal and active state.
func (d *DAG) Counts() (total, completed, running, failed, skipped, pending int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	total = len(d.nodes)
	for _, n := range d.nodes {
		switch n.step.Status {
		case StepCompleted:
			completed++
		case StepRunning:
			running++
		case StepFailed:
			failed++
		case StepSkipped:
			skipped++
		default:
			pending++
		}
	}
	return
}

func (d *DAG) sortedIDsLocked() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
