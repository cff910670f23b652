//go:build linux || darwin

package ws

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseFileLimit lifts the soft RLIMIT_NOFILE to the hard limit so the
// process can hold one descriptor per client. It returns the new soft limit.
func RaiseFileLimit() (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("ws: getrlimit: %w", err)
	}
	if rl.Cur >= rl.Max {
		return rl.Cur, nil
	}

	want := rl
	want.Cur = rl.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err != nil {
		return rl.Cur, fmt.Errorf("ws: setrlimit: %w", err)
	}
	return want.Cur, nil
}
