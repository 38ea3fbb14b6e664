package memory

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/sirupsen/logrus"

	"github.com/willibrandon/haloscope/pkg/logger"
)

// delveChunk is the largest ExamineMemory request the server accepts
const delveChunk = 1000

// Delve reads target memory through a headless dlv server attached to the
// emulator process. The target is halted for the duration of each Read.
type Delve struct {
	mu        sync.Mutex
	client    *rpc2.RPCClient
	dlvCmd    *exec.Cmd // nil when connected to an existing server
	dlvListen string
	base      uint64
	size      int
	running   bool
	closed    bool
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// AttachDelve starts `dlv attach` against pid and connects to it
func AttachDelve(ctx context.Context, pid int, base uint64, size int) (*Delve, error) {
	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free port for delve: %v", err)
	}
	listen := "localhost:" + strconv.Itoa(port)

	dlvCmd := exec.Command("dlv", "attach", strconv.Itoa(pid),
		"--headless",
		"--listen="+listen,
		"--api-version=2",
		"--accept-multiclient",
	)
	setupProcAttr(dlvCmd)

	if err := dlvCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start delve process: %v", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"pid":     pid,
		"listen":  listen,
		"dlv_pid": dlvCmd.Process.Pid,
	}).Info("Started Delve headless server")

	d, err := dial(ctx, listen, base, size)
	if err != nil {
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, err
	}
	d.dlvCmd = dlvCmd

	// dlv attach stops the target; let the game run between reads
	d.resume()
	return d, nil
}

// ConnectDelve connects to an already running headless server
func ConnectDelve(ctx context.Context, addr string, base uint64, size int) (*Delve, error) {
	d, err := dial(ctx, addr, base, size)
	if err != nil {
		return nil, err
	}
	state, err := d.client.GetState()
	if err != nil {
		d.client.Disconnect(false)
		return nil, fmt.Errorf("failed to get delve state: %v", err)
	}
	d.running = state.Running
	return d, nil
}

func dial(ctx context.Context, addr string, base uint64, size int) (*Delve, error) {
	if base == 0 || size <= 0 {
		return nil, fmt.Errorf("invalid window 0x%X+%d", base, size)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Log.WithField("addr", addr).Info("Connected RPC client to Delve headless server")
			return &Delve{
				client:    rpc2.NewClientFromConn(conn),
				dlvListen: addr,
				base:      base,
				size:      size,
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect RPC client to delve server at %s: %v", addr, err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// resume continues the target without waiting for it to stop again
func (d *Delve) resume() {
	stateChan := d.client.Continue()
	d.running = true
	go func() {
		for state := range stateChan {
			if state.Err != nil {
				logger.Log.WithError(state.Err).Debug("Delve continue returned")
			}
			if state.Exited {
				logger.Log.WithField("exit_status", state.ExitStatus).Warn("Target process exited")
			}
		}
	}()
}

func (d *Delve) halt() (*api.DebuggerState, error) {
	state, err := d.client.Halt()
	if err != nil {
		return nil, fmt.Errorf("failed to halt target: %v", err)
	}
	d.running = false
	return state, nil
}

func (d *Delve) Read(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	wasRunning := d.running
	if wasRunning {
		state, err := d.halt()
		if err != nil {
			return nil, err
		}
		if state.Exited {
			return nil, fmt.Errorf("target exited with status %d", state.ExitStatus)
		}
		defer d.resume()
	}

	buf := make([]byte, 0, d.size)
	for len(buf) < d.size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := d.size - len(buf)
		if n > delveChunk {
			n = delveChunk
		}
		addr := d.base + uint64(len(buf))
		chunk, _, err := d.client.ExamineMemory(addr, n)
		if err != nil {
			return nil, fmt.Errorf("failed to examine memory at 0x%X: %v", addr, err)
		}
		if len(chunk) != n {
			return nil, fmt.Errorf("%w: %d of %d bytes at 0x%X", ErrShortRead, len(chunk), n, addr)
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// Write is not available: the RPC API has no raw memory write
func (d *Delve) Write(ctx context.Context, offset uint32, data []byte) error {
	return ErrWriteUnsupported
}

func (d *Delve) BaseAddress() uint64 {
	return d.base
}

// Close detaches from the target without killing it and stops the dlv
// process this provider started
func (d *Delve) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var closeErr error
	if d.running {
		if _, err := d.halt(); err != nil {
			logger.Log.WithError(err).Warn("Failed to halt target before detaching")
		}
	}
	if d.dlvCmd != nil {
		if err := d.client.Detach(false); err != nil {
			closeErr = fmt.Errorf("failed to detach delve: %v", err)
		}
	} else if err := d.client.Disconnect(true); err != nil {
		closeErr = fmt.Errorf("failed to disconnect delve client: %v", err)
	}

	if d.dlvCmd != nil && d.dlvCmd.Process != nil {
		pid := d.dlvCmd.Process.Pid
		done := make(chan error, 1)
		go func() {
			_, err := d.dlvCmd.Process.Wait()
			done <- err
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Log.WithField("dlv_pid", pid).Warn("Delve did not exit after detach, killing it")
			if err := d.dlvCmd.Process.Kill(); err != nil && closeErr == nil {
				closeErr = fmt.Errorf("failed to kill delve process: %v", err)
			}
			<-done
		}
		logger.Log.WithField("dlv_pid", pid).Info("Delve process terminated")
		d.dlvCmd = nil
	}
	return closeErr
}
