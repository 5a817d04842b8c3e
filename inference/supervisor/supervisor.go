// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package supervisor guarantees exactly one daemon per role per node across
// consecutive rounds. A live daemon is adopted by pid probe alone; the
// supervisor never connects to it (it may be deep in model loading) and
// never kills it on round teardown.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/inference/pidfile"
)

const spawnGrace = 500 * time.Millisecond

var errSpawnDied = errors.New("daemon died immediately after spawn")

// Command describes how to launch one daemon role.
type Command struct {
	Role   inference.Role
	Binary string
	Args   []string
	// Env entries appended to the child environment.
	Env []string
}

// Supervisor manages daemon processes under dataDir.
type Supervisor struct {
	dataDir string
	log     log.Logger
}

// New returns a supervisor recording pid sentinels under dataDir.
func New(dataDir string, logger log.Logger) *Supervisor {
	return &Supervisor{
		dataDir: dataDir,
		log:     logger,
	}
}

// Ensure adopts the live daemon for cmd.Role, or spawns a new one. It
// returns the daemon pid and whether it was adopted.
func (s *Supervisor) Ensure(cmd Command) (int, bool, error) {
	pidPath := inference.PIDFile(s.dataDir, cmd.Role)

	if pid, err := pidfile.Read(pidPath); err == nil {
		if pidfile.IsAlive(pid) {
			s.log.Debug("adopted daemon",
				"role", cmd.Role,
				"pid", pid,
			)
			return pid, true, nil
		}
		s.log.Info("removing stale pid file",
			"role", cmd.Role,
			"pid", pid,
		)
		_ = os.Remove(pidPath)
	}

	pid, err := s.spawn(cmd)
	if err != nil {
		return 0, false, err
	}
	if err := pidfile.Write(pidPath, pid); err != nil {
		return 0, false, fmt.Errorf("failed to record daemon pid: %w", err)
	}

	// Give the child a moment to crash on startup errors before we trust
	// the pid.
	time.Sleep(spawnGrace)
	if !pidfile.IsAlive(pid) {
		_ = os.Remove(pidPath)
		return 0, false, errSpawnDied
	}

	s.log.Info("spawned daemon",
		"role", cmd.Role,
		"pid", pid,
		"binary", cmd.Binary,
	)
	return pid, false, nil
}

// spawn forks the daemon into its own session so it outlives the round.
func (s *Supervisor) spawn(cmd Command) (int, error) {
	child := exec.Command(cmd.Binary, cmd.Args...)
	child.Dir = s.dataDir
	child.Env = append(os.Environ(), cmd.Env...)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := child.Process.Pid

	// Detach: the round must not wait on the daemon, and the daemon must
	// not die with the round.
	go func() { _ = child.Wait() }()

	return pid, nil
}

// Cleanup removes the pid sentinel for role, but only once the recorded
// process is confirmed dead.
func (s *Supervisor) Cleanup(role inference.Role) error {
	pidPath := inference.PIDFile(s.dataDir, role)
	pid, err := pidfile.Read(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pidfile.IsAlive(pid) {
		return fmt.Errorf("refusing to clean up live daemon %d", pid)
	}
	return os.Remove(pidPath)
}
