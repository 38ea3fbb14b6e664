//go:build windows

package memory

import "golang.org/x/sys/windows"

const processAccess = windows.PROCESS_VM_READ | windows.PROCESS_VM_WRITE |
	windows.PROCESS_VM_OPERATION | windows.PROCESS_QUERY_INFORMATION

type processHandle struct {
	h windows.Handle
}

func openProcess(pid int) (processHandle, error) {
	h, err := windows.OpenProcess(processAccess, false, uint32(pid))
	if err != nil {
		return processHandle{}, err
	}
	return processHandle{h: h}, nil
}

func (h processHandle) read(addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(h.h, uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	return int(n), err
}

func (h processHandle) write(addr uint64, data []byte) (int, error) {
	var n uintptr
	err := windows.WriteProcessMemory(h.h, uintptr(addr), &data[0], uintptr(len(data)), &n)
	return int(n), err
}

func (h processHandle) close() error {
	return windows.CloseHandle(h.h)
}
