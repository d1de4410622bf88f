// Package moduletest sets up module environments for tests.
package moduletest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/task"
)

// NewConfig returns the default configuration with the sysroot and the
// state directory in temporary directories.
func NewConfig(t *testing.T) *bootconf.Config {
	conf := bootconf.GetDefaultConfig()
	conf.Installation.Sysroot = t.TempDir()
	conf.Installation.StateDir = t.TempDir()
	conf.Payload.CacheDir = t.TempDir()
	conf.Payload.DownloadLocations = []string{t.TempDir()}
	conf.Payload.SystemReposDir = t.TempDir()
	return conf
}

// NewEnv returns a module environment with a running control loop that is
// stopped when the test ends.
func NewEnv(t *testing.T, conf *bootconf.Config, cmdline bootconf.Cmdline) *module.Env {
	if conf == nil {
		conf = NewConfig(t)
	}
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return &module.Env{
		Loop:     l,
		Registry: bus.NewRegistry(l),
		Pool:     task.NewPool(2, l),
		Flags:    bootconf.NewFlags(cmdline, conf),
	}
}

// OnLoop runs fn on the control loop of env and waits for it.
func OnLoop(t *testing.T, env *module.Env, fn func()) {
	t.Helper()
	require.NoError(t, env.Loop.Call(context.Background(), func(context.Context) error {
		fn()
		return nil
	}))
}

// RunTasks runs tasks in order on the calling goroutine and returns the
// first error.
func RunTasks(ctx context.Context, tasks []task.Task) error {
	for _, t := range tasks {
		if _, err := task.NewHandle(t, nil).Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunTask runs one task on the calling goroutine.
func RunTask(t task.Task) (interface{}, error) {
	return task.NewHandle(t, nil).Run(context.Background())
}
