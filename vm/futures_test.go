package vm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/nlbc/pkg/bytecode"
)

func TestFutureRunsOnce(t *testing.T) {
	calls := 0
	f := NewFuture(func() (Value, error) {
		calls++
		return int64(42), nil
	})
	for i := 0; i < 3; i++ {
		v, err := f.Force()
		if err != nil || v != int64(42) {
			t.Fatalf("Force = %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("computation ran %d times", calls)
	}
}

func TestFutureWrapsForeignErrors(t *testing.T) {
	f := NewFuture(func() (Value, error) {
		return nil, errors.New("disk on fire")
	})
	_, err := f.Force()
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("err = %T, want RuntimeError", err)
	}
	if re.Msg != "disk on fire" {
		t.Errorf("msg = %q", re.Msg)
	}
}

func TestFutureKeepsGuardErrorsFatal(t *testing.T) {
	f := NewFuture(func() (Value, error) {
		return nil, timeLimitError()
	})
	_, err := f.Force()
	var ge *GuardError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %T, want GuardError", err)
	}
}

func TestDrainIsFIFOAndSubstitutesErrors(t *testing.T) {
	var q taskQueue
	q.push(resolvedFuture(int64(1)))
	q.push(NewFuture(func() (Value, error) {
		return nil, Errorf("task failed")
	}))
	q.push(resolvedFuture(int64(3)))
	results := q.drain()
	if len(results.Items) != 3 {
		t.Fatalf("results = %v", Format(results))
	}
	if results.Items[0] != int64(1) || results.Items[2] != int64(3) {
		t.Errorf("ordered results = %v", results.Items)
	}
	if results.Items[1] != "task failed" {
		t.Errorf("failed task result = %v", results.Items[1])
	}
	if len(q.tasks) != 0 {
		t.Errorf("queue not empty after drain")
	}
}

func TestDrainRunsFuturesScheduledMidDrain(t *testing.T) {
	var q taskQueue
	q.push(NewFuture(func() (Value, error) {
		q.push(resolvedFuture("late"))
		return "early", nil
	}))
	results := q.drain()
	if len(results.Items) != 2 || results.Items[1] != "late" {
		t.Errorf("results = %v", results.Items)
	}
}

func TestScheduleRunTasksOpcodes(t *testing.T) {
	b := build(t)
	env := b.main(
		bytecode.Op1(bytecode.OpAsyncSleep, 0),
		bytecode.Op1(bytecode.OpSchedule),
		bytecode.Op1(bytecode.OpLoadConst, b.cs("no/such/file.txt")),
		bytecode.Op1(bytecode.OpAsyncReadFile),
		bytecode.Op1(bytecode.OpSchedule),
		bytecode.Op1(bytecode.OpRunTasks),
		bytecode.Op1(bytecode.OpStoreName, b.sym("results")),

		// AWAIT on a non-future passes the value through.
		bytecode.Op1(bytecode.OpLoadConst, b.ci(5)),
		bytecode.Op1(bytecode.OpAwait),
		bytecode.Op1(bytecode.OpStoreName, b.sym("v")),
	).mustRun(Options{})
	results, ok := env["results"].(*List)
	if !ok || len(results.Items) != 2 {
		t.Fatalf("results = %v", Format(env["results"]))
	}
	if results.Items[0] != nil {
		t.Errorf("sleep result = %v, want null", results.Items[0])
	}
	msg, ok := results.Items[1].(string)
	if !ok || msg == "" {
		t.Errorf("failed read result = %v, want an error string", results.Items[1])
	}
	if env["v"] != int64(5) {
		t.Errorf("v = %v, want 5", env["v"])
	}
}

func TestAwaitForcesFuture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := build(t)
	env := b.main(
		bytecode.Op1(bytecode.OpLoadConst, b.cs(path)),
		bytecode.Op1(bytecode.OpAsyncReadFile),
		bytecode.Op1(bytecode.OpAwait),
		bytecode.Op1(bytecode.OpStoreName, b.sym("content")),
	).mustRun(Options{})
	if env["content"] != "payload" {
		t.Errorf("content = %v, want payload", env["content"])
	}
}
