// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightledger/flightledger/audit"
	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
)

type dagFixture struct {
	repos db.Repositories
	audit *audit.Store
}

func newDagFixture(t *testing.T) *dagFixture {
	t.Helper()
	repos := db.NewMemoryRepositories()
	return &dagFixture{repos: repos, audit: audit.NewStore(repos.Audit)}
}

func (f *dagFixture) runner(t *testing.T, dag DAG) *Runner {
	t.Helper()
	runner, err := NewRunner(dag, f.repos.DagRuns, f.repos.TaskRuns, f.audit)
	require.NoError(t, err)
	return runner
}

func ok(result any) func() (any, error) {
	return func() (any, error) { return result, nil }
}

func fail(msg string) func() (any, error) {
	return func() (any, error) { return nil, errors.New(msg) }
}

func TestNewRunnerRejectsUndeclaredDependency(t *testing.T) {
	f := newDagFixture(t)
	_, err := NewRunner(DAG{
		Name: "bad",
		Tasks: []Task{
			{Name: "a", DependsOn: []string{"ghost"}, Fn: ok(nil)},
		},
	}, f.repos.DagRuns, f.repos.TaskRuns, f.audit)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "a", cfgErr.Task)
	require.Equal(t, "ghost", cfgErr.Dependency)
}

func TestNewRunnerRejectsCycles(t *testing.T) {
	f := newDagFixture(t)
	_, err := NewRunner(DAG{
		Name: "cyclic",
		Tasks: []Task{
			{Name: "a", DependsOn: []string{"c"}, Fn: ok(nil)},
			{Name: "b", DependsOn: []string{"a"}, Fn: ok(nil)},
			{Name: "c", DependsOn: []string{"b"}, Fn: ok(nil)},
		},
	}, f.repos.DagRuns, f.repos.TaskRuns, f.audit)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)

	// A task depending on itself is the smallest cycle.
	_, err = NewRunner(DAG{
		Name:  "self",
		Tasks: []Task{{Name: "a", DependsOn: []string{"a"}, Fn: ok(nil)}},
	}, f.repos.DagRuns, f.repos.TaskRuns, f.audit)
	require.ErrorAs(t, err, &cycleErr)
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	f := newDagFixture(t)
	runner := f.runner(t, DAG{
		Name: "ordered",
		Tasks: []Task{
			{Name: "report", DependsOn: []string{"match", "settle"}, Fn: ok(nil)},
			{Name: "ingest", Fn: ok(nil)},
			{Name: "match", DependsOn: []string{"ingest"}, Fn: ok(nil)},
			{Name: "settle", DependsOn: []string{"match"}, Fn: ok(nil)},
		},
	})
	order := runner.ExecutionOrder()
	require.Len(t, order, 4)
	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}
	require.Less(t, position["ingest"], position["match"])
	require.Less(t, position["match"], position["settle"])
	require.Less(t, position["match"], position["report"])
	require.Less(t, position["settle"], position["report"])
}

func TestRunSucceedsAndPersistsResults(t *testing.T) {
	f := newDagFixture(t)
	runner := f.runner(t, DAG{
		Name: "happy",
		Tasks: []Task{
			{Name: "a", Fn: ok(map[string]any{"rows": 7})},
			{Name: "b", DependsOn: []string{"a"}, Fn: ok("done")},
		},
	})

	run, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.CompletedAt)

	got, tasks, err := GetRun(f.repos.DagRuns, f.repos.TaskRuns, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, got.ID)
	require.Len(t, tasks, 2)
	// Tasks come back sorted by name.
	require.Equal(t, "a", tasks[0].TaskName)
	require.Equal(t, "b", tasks[1].TaskName)
	require.Equal(t, models.RunStatusSucceeded, tasks[0].Status)
	require.Equal(t, map[string]any{"rows": 7}, tasks[0].Result)
	// Non-map results are wrapped.
	require.Equal(t, map[string]any{"value": "done"}, tasks[1].Result)
	require.NotNil(t, tasks[0].StartedAt)
	require.NotNil(t, tasks[0].CompletedAt)

	// Both successes were audited against the run id.
	records, err := f.audit.Lineage(run.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, "task_succeeded", record.Action)
		require.Equal(t, "dag_runner", record.Component)
	}
}

func TestFailureSkipsDownstreamTasks(t *testing.T) {
	f := newDagFixture(t)
	runner := f.runner(t, DAG{
		Name: "cascade",
		Tasks: []Task{
			{Name: "a", Fn: fail("feed unavailable")},
			{Name: "b", Fn: ok(nil)},
			{Name: "c", DependsOn: []string{"a"}, Fn: ok(nil)},
			{Name: "d", DependsOn: []string{"c"}, Fn: ok(nil)},
		},
	})

	run, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, run.Status)

	_, tasks, err := GetRun(f.repos.DagRuns, f.repos.TaskRuns, run.ID)
	require.NoError(t, err)
	byName := make(map[string]models.TaskRun, len(tasks))
	for _, task := range tasks {
		byName[task.TaskName] = task
	}
	require.Equal(t, models.RunStatusFailed, byName["a"].Status)
	require.Equal(t, "feed unavailable", byName["a"].ErrorMessage)
	// Independent tasks still run.
	require.Equal(t, models.RunStatusSucceeded, byName["b"].Status)
	// Skips cascade transitively.
	require.Equal(t, models.RunStatusSkipped, byName["c"].Status)
	require.Equal(t, `dependency "a" did not succeed`, byName["c"].ErrorMessage)
	require.Equal(t, models.RunStatusSkipped, byName["d"].Status)
	require.Equal(t, `dependency "c" did not succeed`, byName["d"].ErrorMessage)
	// Skipped tasks never started.
	require.Nil(t, byName["c"].StartedAt)
}

func TestPanicBecomesTaskFailure(t *testing.T) {
	f := newDagFixture(t)
	runner := f.runner(t, DAG{
		Name: "panicky",
		Tasks: []Task{
			{Name: "a", Fn: func() (any, error) { panic("boom") }},
		},
	})

	run, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, run.Status)

	_, tasks, err := GetRun(f.repos.DagRuns, f.repos.TaskRuns, run.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, models.RunStatusFailed, tasks[0].Status)
	require.Equal(t, "panic: boom", tasks[0].ErrorMessage)
}

func TestRunsAreIndependent(t *testing.T) {
	f := newDagFixture(t)
	runner := f.runner(t, DAG{
		Name:  "repeat",
		Tasks: []Task{{Name: "a", Fn: ok(nil)}},
	})

	first, err := runner.Run()
	require.NoError(t, err)
	second, err := runner.Run()
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	_, firstTasks, err := GetRun(f.repos.DagRuns, f.repos.TaskRuns, first.ID)
	require.NoError(t, err)
	_, secondTasks, err := GetRun(f.repos.DagRuns, f.repos.TaskRuns, second.ID)
	require.NoError(t, err)
	require.Len(t, firstTasks, 1)
	require.Len(t, secondTasks, 1)
	require.NotEqual(t, firstTasks[0].ID, secondTasks[0].ID)
}

func TestGetRunUnknownID(t *testing.T) {
	f := newDagFixture(t)
	_, _, err := GetRun(f.repos.DagRuns, f.repos.TaskRuns, "no-such-run")
	require.ErrorIs(t, err, db.ErrNotFound)
}
