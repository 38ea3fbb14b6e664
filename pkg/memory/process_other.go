//go:build !linux && !windows

package memory

type processHandle struct{}

func openProcess(pid int) (processHandle, error) {
	return processHandle{}, ErrUnsupportedPlatform
}

func (processHandle) read(addr uint64, buf []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (processHandle) write(addr uint64, data []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (processHandle) close() error {
	return nil
}
