// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package supervisor

import (
	"os"
	"syscall"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/pidfile"
)

func sleepCommand() Command {
	return Command{
		Role:   inference.RoleGame,
		Binary: "/bin/sleep",
		Args:   []string{"30"},
	}
}

func TestEnsureSpawnsAndAdopts(t *testing.T) {
	require := require.New(t)

	s := New(t.TempDir(), log.NewNoOpLogger())

	pid, adopted, err := s.Ensure(sleepCommand())
	require.NoError(err)
	require.False(adopted)
	require.True(pidfile.IsAlive(pid))
	defer func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}()

	// Second round adopts the same process without respawning.
	again, adopted, err := s.Ensure(sleepCommand())
	require.NoError(err)
	require.True(adopted)
	require.Equal(pid, again)
}

func TestEnsureReplacesStalePID(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	s := New(dir, log.NewNoOpLogger())

	// Record a pid that cannot be alive.
	pidPath := inference.PIDFile(dir, inference.RoleGame)
	require.NoError(pidfile.Write(pidPath, 1<<21))

	pid, adopted, err := s.Ensure(sleepCommand())
	require.NoError(err)
	require.False(adopted)
	require.True(pidfile.IsAlive(pid))
	defer func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}()

	recorded, err := pidfile.Read(pidPath)
	require.NoError(err)
	require.Equal(pid, recorded)
}

func TestEnsureSpawnFailure(t *testing.T) {
	s := New(t.TempDir(), log.NewNoOpLogger())
	_, _, err := s.Ensure(Command{
		Role:   inference.RoleJury,
		Binary: "/nonexistent/daemon",
	})
	require.Error(t, err)
}

func TestCleanup(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	s := New(dir, log.NewNoOpLogger())

	// Live process: refused.
	pidPath := inference.PIDFile(dir, inference.RoleJury)
	require.NoError(pidfile.Write(pidPath, os.Getpid()))
	require.Error(s.Cleanup(inference.RoleJury))

	// Dead process: removed.
	require.NoError(pidfile.Write(pidPath, 1<<21))
	require.NoError(s.Cleanup(inference.RoleJury))
	_, err := os.Stat(pidPath)
	require.True(os.IsNotExist(err))

	// Missing sentinel is fine.
	require.NoError(s.Cleanup(inference.RoleJury))
}
