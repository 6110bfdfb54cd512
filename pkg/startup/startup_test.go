package startup_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tansy/pkg/startup"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestManager_StartsInRequirementOrder(t *testing.T) {
	m := startup.NewManager(testLogger(), 1)

	var started []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			started = append(started, name)
			return nil
		}
	}

	m.Add(startup.Func{DependencyName: "server", DependsOn: []string{"database", "redis"}, StartFunc: record("server")})
	m.Add(startup.Func{DependencyName: "database", StartFunc: record("database")})
	m.Add(startup.Func{DependencyName: "redis", StartFunc: record("redis")})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"database", "redis", "server"}, started)
}

func TestManager_RetriesOnlyFailedDependencies(t *testing.T) {
	m := startup.NewManager(testLogger(), 3)

	dbStarts := 0
	redisStarts := 0
	m.Add(startup.Func{DependencyName: "database", StartFunc: func(context.Context) error {
		dbStarts++
		return nil
	}})
	m.Add(startup.Func{DependencyName: "redis", DependsOn: []string{"database"}, StartFunc: func(context.Context) error {
		redisStarts++
		if redisStarts < 2 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, dbStarts, "already-started dependency should not restart")
	assert.Equal(t, 2, redisStarts)
}

func TestManager_FailsAfterMaxAttempts(t *testing.T) {
	m := startup.NewManager(testLogger(), 2)

	attempts := 0
	m.Add(startup.Func{DependencyName: "database", StartFunc: func(context.Context) error {
		attempts++
		return errors.New("connection refused")
	}})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, attempts)
}

func TestManager_UnregisteredRequirement(t *testing.T) {
	m := startup.NewManager(testLogger(), 1)
	m.Add(startup.Func{DependencyName: "server", DependsOn: []string{"database"}})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered dependency 'database'")
}

func TestManager_StopsInReverseOrder(t *testing.T) {
	m := startup.NewManager(testLogger(), 1)

	var stopped []string
	dep := func(name string, requires ...string) startup.Func {
		return startup.Func{
			DependencyName: name,
			DependsOn:      requires,
			StopFunc: func(context.Context) error {
				stopped = append(stopped, name)
				return nil
			},
		}
	}

	m.Add(dep("database"))
	m.Add(dep("redis"))
	m.Add(dep("server", "database", "redis"))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"server", "redis", "database"}, stopped)
}

func TestManager_StopSkipsNeverStarted(t *testing.T) {
	m := startup.NewManager(testLogger(), 1)

	stopCalled := false
	m.Add(startup.Func{
		DependencyName: "database",
		StartFunc:      func(context.Context) error { return errors.New("connection refused") },
		StopFunc: func(context.Context) error {
			stopCalled = true
			return nil
		},
	})

	require.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, stopCalled)
}
