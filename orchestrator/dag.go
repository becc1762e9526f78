// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package orchestrator runs task DAGs in topological order with
// skip-on-failure cascading. Dependency validation and cycle detection happen
// at construction; a bad DAG never starts a run.
package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flightledger/flightledger/audit"
	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
)

// Task is one unit of work in a DAG. Fn runs synchronously; its result is
// persisted on success.
type Task struct {
	Name      string
	DependsOn []string
	Fn        func() (any, error)
}

// DAG is a named set of tasks with dependencies.
type DAG struct {
	Name  string
	Tasks []Task
}

// ConfigError reports a dependency on an undeclared task.
type ConfigError struct {
	Task       string
	Dependency string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dag: task %q depends on undeclared task %q", e.Task, e.Dependency)
}

// CycleError reports a dependency cycle through the named task.
type CycleError struct {
	Task string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: dependency cycle through task %q", e.Task)
}

// Runner executes one DAG. Construction validates the shape; Run may be
// called repeatedly, each call producing a fresh dag run.
type Runner struct {
	dag      DAG
	tasks    map[string]Task
	order    []string
	dagRuns  db.DagRunRepository
	taskRuns db.TaskRunRepository
	audit    *audit.Store
}

// NewRunner validates the DAG and computes its execution order.
func NewRunner(dag DAG, dagRuns db.DagRunRepository, taskRuns db.TaskRunRepository, auditStore *audit.Store) (*Runner, error) {
	tasks := make(map[string]Task, len(dag.Tasks))
	for _, task := range dag.Tasks {
		tasks[task.Name] = task
	}
	for _, task := range dag.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return nil, &ConfigError{Task: task.Name, Dependency: dep}
			}
		}
	}
	order, err := topoSort(dag.Tasks, tasks)
	if err != nil {
		return nil, err
	}
	return &Runner{
		dag:      dag,
		tasks:    tasks,
		order:    order,
		dagRuns:  dagRuns,
		taskRuns: taskRuns,
		audit:    auditStore,
	}, nil
}

// Tri-color depth-first search: white unvisited, gray on the current path,
// black done. Revisiting gray means a cycle.
const (
	white = iota
	gray
	black
)

func topoSort(declared []Task, tasks map[string]Task) ([]string, error) {
	colors := make(map[string]int, len(declared))
	order := make([]string, 0, len(declared))

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case gray:
			return &CycleError{Task: name}
		case black:
			return nil
		}
		colors[name] = gray
		for _, dep := range tasks[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[name] = black
		order = append(order, name)
		return nil
	}
	for _, task := range declared {
		if err := visit(task.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ExecutionOrder returns the topological task order.
func (r *Runner) ExecutionOrder() []string {
	order := make([]string, len(r.order))
	copy(order, r.order)
	return order
}

// Name returns the DAG name.
func (r *Runner) Name() string {
	return r.dag.Name
}

// Run executes the DAG once. A task whose direct dependency failed or was
// skipped is skipped itself, so failures cascade without aborting the run.
// The run fails only if some task failed; Run's error reports persistence
// problems, never task failures.
func (r *Runner) Run() (models.DagRun, error) {
	now := time.Now().UTC()
	run := models.DagRun{
		ID:        uuid.NewString(),
		DagName:   r.dag.Name,
		Status:    models.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := r.dagRuns.Insert(run); err != nil {
		return models.DagRun{}, err
	}

	taskRows := make(map[string]models.TaskRun, len(r.order))
	for _, name := range r.order {
		task := r.tasks[name]
		dependsOn := task.DependsOn
		if dependsOn == nil {
			dependsOn = []string{}
		}
		row := models.TaskRun{
			ID:        uuid.NewString(),
			DagRunID:  run.ID,
			TaskName:  name,
			Status:    models.RunStatusPending,
			DependsOn: dependsOn,
		}
		if err := r.taskRuns.Insert(row); err != nil {
			return models.DagRun{}, err
		}
		taskRows[name] = row
	}

	statuses := make(map[string]string, len(r.order))
	anyFailed := false
	for _, name := range r.order {
		row := taskRows[name]
		if dep, blocked := blockedBy(r.tasks[name], statuses); blocked {
			row.Status = models.RunStatusSkipped
			row.ErrorMessage = fmt.Sprintf("dependency %q did not succeed", dep)
			statuses[name] = models.RunStatusSkipped
			if err := r.taskRuns.Update(row); err != nil {
				return models.DagRun{}, err
			}
			log.Debugf("DAG %s: task %s skipped (%s)", r.dag.Name, name, dep)
			continue
		}

		started := time.Now().UTC()
		row.Status = models.RunStatusRunning
		row.StartedAt = &started
		if err := r.taskRuns.Update(row); err != nil {
			return models.DagRun{}, err
		}

		result, taskErr := invoke(r.tasks[name].Fn)
		completed := time.Now().UTC()
		row.CompletedAt = &completed
		if taskErr != nil {
			row.Status = models.RunStatusFailed
			row.ErrorMessage = taskErr.Error()
			statuses[name] = models.RunStatusFailed
			anyFailed = true
			r.auditTask("task_failed", run.ID, row, map[string]string{"error": taskErr.Error()})
			log.Warnf("DAG %s: task %s failed: %v", r.dag.Name, name, taskErr)
		} else {
			row.Status = models.RunStatusSucceeded
			row.Result = wrapResult(result)
			statuses[name] = models.RunStatusSucceeded
			r.auditTask("task_succeeded", run.ID, row, nil)
		}
		if err := r.taskRuns.Update(row); err != nil {
			return models.DagRun{}, err
		}
	}

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = models.RunStatusSucceeded
	if anyFailed {
		run.Status = models.RunStatusFailed
	}
	if err := r.dagRuns.Update(run); err != nil {
		return models.DagRun{}, err
	}
	log.Infof("DAG %s run %s finished %s", r.dag.Name, run.ID, run.Status)
	return run, nil
}

func blockedBy(task Task, statuses map[string]string) (string, bool) {
	for _, dep := range task.DependsOn {
		switch statuses[dep] {
		case models.RunStatusFailed, models.RunStatusSkipped:
			return dep, true
		}
	}
	return "", false
}

// invoke runs the task function, converting a panic into a task failure so
// one bad task cannot take down the whole run.
func invoke(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func wrapResult(result any) map[string]any {
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": result}
}

func (r *Runner) auditTask(action, runID string, row models.TaskRun, extra map[string]string) {
	detail := map[string]string{
		"dag":  r.dag.Name,
		"task": row.TaskName,
	}
	for key, value := range extra {
		detail[key] = value
	}
	if _, err := r.audit.Log(audit.Entry{
		Action:          action,
		Component:       "dag_runner",
		OutputReference: runID,
		Detail:          detail,
	}); err != nil {
		log.Errorf("DAG %s: audit %s for task %s: %v", r.dag.Name, action, row.TaskName, err)
	}
}

// GetRun returns one run and its task rows sorted by task name.
func GetRun(dagRuns db.DagRunRepository, taskRuns db.TaskRunRepository, runID string) (models.DagRun, []models.TaskRun, error) {
	run, err := dagRuns.Get(runID)
	if err != nil {
		return models.DagRun{}, nil, err
	}
	if run == nil {
		return models.DagRun{}, nil, db.ErrNotFound
	}
	tasks, err := taskRuns.ByRun(runID)
	if err != nil {
		return models.DagRun{}, nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskName < tasks[j].TaskName })
	return *run, tasks, nil
}
