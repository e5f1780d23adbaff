package trial

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/xerrors"
)

func TestRunner_Success(t *testing.T) {
	calls := []Params{}
	sim := SimulatorFunc(func(ctx context.Context, p Params) error {
		calls = append(calls, p)
		return nil
	})

	params := Params{OutputDir: "/out/1", Algorithm: "pso", Iteration: 2}

	res, err := NewRunner(sim, nil).Run(context.Background(), params, false)
	require.NoError(t, err)
	require.Equal(t, Result{Index: 2, OutputDir: "/out/1", Succeeded: true}, res)
	require.Len(t, calls, 1)
	require.Equal(t, params, calls[0])
}

func TestRunner_IsolatedError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	sim := SimulatorFunc(func(context.Context, Params) error {
		return xerrors.New("out of battery")
	})

	res, err := NewRunner(sim, zap.New(core)).Run(context.Background(), Params{Algorithm: "pso"}, true)
	require.NoError(t, err)
	require.False(t, res.Succeeded)
	require.NotNil(t, res.Failure)
	require.Equal(t, "out of battery", res.Failure.Message)
	require.Equal(t, "mod_test.go", filepath.Base(res.Failure.Source))
	require.True(t, strings.HasSuffix(res.Failure.Routine, "TestRunner_IsolatedError.func1"))
	require.NotZero(t, res.Failure.Line)

	entries := logs.FilterMessage("iteration failed").All()
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].ContextMap(), "failure")
}

func TestRunner_FailFast(t *testing.T) {
	cause := errors.New("crash")
	sim := SimulatorFunc(func(context.Context, Params) error {
		return xerrors.Errorf("couldn't move: %w", cause)
	})

	res, err := NewRunner(sim, nil).Run(context.Background(), Params{Algorithm: "lawn_mower", Iteration: 4}, false)
	require.Error(t, err)
	require.False(t, res.Succeeded)

	var fault *IterationFault
	require.True(t, errors.As(err, &fault))
	require.Equal(t, "lawn_mower", fault.Algorithm)
	require.Equal(t, 4, fault.Index)
	require.True(t, errors.Is(err, cause))
	require.Equal(t, "*errors.errorString", fault.Record.Kind)
	require.Equal(t, "couldn't move: crash", fault.Record.Message)
}

func TestRunner_Panic(t *testing.T) {
	sim := SimulatorFunc(func(context.Context, Params) error {
		var values []int
		_ = values[3]
		return nil
	})

	res, err := NewRunner(sim, nil).Run(context.Background(), Params{}, true)
	require.NoError(t, err)
	require.False(t, res.Succeeded)
	require.Equal(t, "runtime.boundsError", res.Failure.Kind)
	require.Contains(t, res.Failure.Message, "index out of range")
	require.Equal(t, "mod_test.go", filepath.Base(res.Failure.Source))
	require.True(t, strings.HasSuffix(res.Failure.Routine, "TestRunner_Panic.func1"))

	_, err = NewRunner(sim, nil).Run(context.Background(), Params{}, false)
	require.Error(t, err)
}

func TestRunner_PanicWithoutMessage(t *testing.T) {
	sim := SimulatorFunc(func(context.Context, Params) error {
		panic("")
	})

	res, err := NewRunner(sim, nil).Run(context.Background(), Params{}, true)
	require.NoError(t, err)
	require.Equal(t, "string", res.Failure.Kind)
	require.Equal(t, NoMessage, res.Failure.Message)

	sim = SimulatorFunc(func(context.Context, Params) error {
		panic(errors.New(""))
	})

	res, err = NewRunner(sim, nil).Run(context.Background(), Params{}, true)
	require.NoError(t, err)
	require.Equal(t, NoMessage, res.Failure.Message)
}

func TestRunner_Fault(t *testing.T) {
	sim := SimulatorFunc(func(context.Context, Params) error {
		return NewFault("CollisionError", "drone %d hit the ground", 3)
	})

	res, err := NewRunner(sim, nil).Run(context.Background(), Params{}, true)
	require.NoError(t, err)
	require.Equal(t, "CollisionError", res.Failure.Kind)
	require.Equal(t, "drone 3 hit the ground", res.Failure.Message)
	require.Equal(t, "mod_test.go", filepath.Base(res.Failure.Source))

	empty := NewFault("Empty", "")
	require.Equal(t, NoMessage, fromError(empty).Message)
}

func TestRunner_NilFault(t *testing.T) {
	sim := SimulatorFunc(func(context.Context, Params) error {
		var fault *Fault
		return fault
	})

	var res Result
	var err error
	require.NotPanics(t, func() {
		res, err = NewRunner(sim, nil).Run(context.Background(), Params{}, true)
	})
	require.NoError(t, err)
	require.False(t, res.Succeeded)
	require.Equal(t, "*trial.Fault", res.Failure.Kind)
	require.Equal(t, NoMessage, res.Failure.Message)
	require.Equal(t, unknown, res.Failure.Source)

	require.NotPanics(t, func() {
		_, err = NewRunner(sim, nil).Run(context.Background(), Params{Algorithm: "pso"}, false)
	})

	var fault *IterationFault
	require.True(t, errors.As(err, &fault))
	require.Contains(t, fault.Error(), NoMessage)

	sim = SimulatorFunc(func(context.Context, Params) error {
		var fault *Fault
		panic(error(fault))
	})

	require.NotPanics(t, func() {
		res, err = NewRunner(sim, nil).Run(context.Background(), Params{}, true)
	})
	require.NoError(t, err)
	require.Equal(t, NoMessage, res.Failure.Message)
}

func TestFromError_NoFrame(t *testing.T) {
	rec := fromError(errors.New("plain"))
	require.Equal(t, unknown, rec.Source)
	require.Equal(t, unknown, rec.Routine)
	require.Equal(t, 0, rec.Line)
	require.Equal(t, "plain", rec.Message)
}

func TestIterationFault_Error(t *testing.T) {
	fault := &IterationFault{
		Algorithm: "pso",
		Index:     1,
		Record:    FailureRecord{Source: "a.go", Line: 2, Routine: "f", Kind: "k", Message: "m"},
	}

	require.Equal(t, "pso iteration 1 failed at a.go:2 in f: k: m", fault.Error())
	require.Nil(t, fault.Unwrap())
}
