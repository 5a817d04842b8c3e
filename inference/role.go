// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inference

import "path/filepath"

// Role distinguishes the two resident daemons. They share the protocol but
// not the prompt discipline: the game daemon narrates, the jury daemon only
// ever answers YES or NO.
type Role string

const (
	RoleGame Role = "game"
	RoleJury Role = "jury"
)

// PIDFile returns the authoritative pid sentinel for a role under dataDir.
func PIDFile(dataDir string, role Role) string {
	name := "ai_daemon.pid"
	if role == RoleJury {
		name = "ai_jury_daemon.pid"
	}
	return filepath.Join(dataDir, name)
}
