//go:build linux && amd64

package hotpatch

import "syscall"

// Relocated code keeps its rel32 calls into the runtime, so the arena has to
// be within 2GiB of the text segment. Go binaries load low, and MAP_32BIT
// keeps the arena there too.
const arenaMapFlags = syscall.MAP_32BIT
