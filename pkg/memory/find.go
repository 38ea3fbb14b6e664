package memory

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/process"
)

var (
	ErrProcessNotFound  = errors.New("no matching process")
	ErrAmbiguousProcess = errors.New("more than one matching process")
)

// DefaultProcessName is the emulator executable looked for when no pid is given
const DefaultProcessName = "xemu"

// FindProcess returns the pid of the single running process whose
// executable name matches name. The comparison ignores case and a .exe
// suffix.
func FindProcess(name string) (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	var pids []int
	for _, p := range procs {
		exe, err := p.Name()
		if err != nil {
			continue
		}
		if matchProcessName(exe, name) {
			pids = append(pids, int(p.Pid))
		}
	}

	switch len(pids) {
	case 0:
		return 0, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	case 1:
		return pids[0], nil
	}
	return 0, fmt.Errorf("%w: %s has pids %v", ErrAmbiguousProcess, name, pids)
}

func matchProcessName(exe, name string) bool {
	norm := func(s string) string {
		s = strings.ToLower(filepath.Base(s))
		return strings.TrimSuffix(s, ".exe")
	}
	return norm(exe) == norm(name)
}
