// Package config holds the options shared by every haloscope command.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/memory"
	"github.com/willibrandon/haloscope/pkg/recorder"
)

// Provider kinds
const (
	ProviderProcess = "process"
	ProviderDelve   = "delve"
	ProviderFile    = "file"
)

// Options configures how haloscope reaches the target and presents it
type Options struct {
	// Provider selects the memory provider: process, delve or file
	Provider string

	// Pid is the emulator process id
	Pid int

	// BaseAddress is the host address of guest physical address 0
	BaseAddress uint64

	// DelveAddr connects to a running headless dlv server instead of
	// starting one
	DelveAddr string

	// CaptureFile is the raw dump read by the file provider
	CaptureFile string

	// CaptureSize overrides the layout's window size when non-zero
	CaptureSize int

	// LayoutFile is a YAML layout descriptor. Empty means the default layout.
	LayoutFile string

	PollInterval time.Duration
	ListenAddr   string
	Compression  recorder.CompressionType
	CacheSize    int
	NoColor      bool
}

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{
		Provider:     ProviderProcess,
		PollInterval: 500 * time.Millisecond,
		ListenAddr:   "localhost:8642",
		Compression:  recorder.DefaultCompression,
		CacheSize:    32,
	}
}

// LoadFromEnvironment returns DefaultOptions overridden by HALOSCOPE_*
// environment variables
func LoadFromEnvironment() (Options, error) {
	options := DefaultOptions()

	if provider := os.Getenv("HALOSCOPE_PROVIDER"); provider != "" {
		options.Provider = strings.ToLower(strings.TrimSpace(provider))
	}

	if pid := os.Getenv("HALOSCOPE_PID"); pid != "" {
		n, err := strconv.Atoi(strings.TrimSpace(pid))
		if err != nil {
			return options, fmt.Errorf("HALOSCOPE_PID: %v", err)
		}
		options.Pid = n
	}

	if base := os.Getenv("HALOSCOPE_BASE"); base != "" {
		addr, err := memory.ParseAddress(base)
		if err != nil {
			return options, fmt.Errorf("HALOSCOPE_BASE: %v", err)
		}
		options.BaseAddress = addr
	}

	options.DelveAddr = envOr("HALOSCOPE_DELVE_ADDR", options.DelveAddr)
	options.CaptureFile = envOr("HALOSCOPE_CAPTURE", options.CaptureFile)
	options.LayoutFile = envOr("HALOSCOPE_LAYOUT", options.LayoutFile)
	options.ListenAddr = envOr("HALOSCOPE_LISTEN", options.ListenAddr)

	if size := os.Getenv("HALOSCOPE_CAPTURE_SIZE"); size != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(size), 0, 64)
		if err != nil || n < 0 {
			return options, fmt.Errorf("HALOSCOPE_CAPTURE_SIZE: invalid size %q", size)
		}
		options.CaptureSize = int(n)
	}

	if interval := os.Getenv("HALOSCOPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return options, fmt.Errorf("HALOSCOPE_INTERVAL: %v", err)
		}
		options.PollInterval = d
	}

	if compression := os.Getenv("HALOSCOPE_COMPRESSION"); compression != "" {
		ct, err := recorder.ParseCompression(compression)
		if err != nil {
			return options, fmt.Errorf("HALOSCOPE_COMPRESSION: %v", err)
		}
		options.Compression = ct
	}

	if cache := os.Getenv("HALOSCOPE_CACHE_SIZE"); cache != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cache))
		if err != nil {
			return options, fmt.Errorf("HALOSCOPE_CACHE_SIZE: %v", err)
		}
		options.CacheSize = n
	}

	if noColor := os.Getenv("HALOSCOPE_NO_COLOR"); noColor != "" {
		options.NoColor = noColor == "1" || noColor == "true" || noColor == "yes"
	}

	return options, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Layout loads the layout descriptor and applies CaptureSize
func (o Options) Layout() (engine.Layout, error) {
	l := engine.DefaultLayout()
	if o.LayoutFile != "" {
		var err error
		if l, err = engine.LoadLayout(o.LayoutFile); err != nil {
			return l, err
		}
	}
	if o.CaptureSize > 0 {
		l.CaptureSize = uint32(o.CaptureSize)
		if err := l.Validate(); err != nil {
			return l, err
		}
	}
	return l, nil
}

// OpenProvider opens the configured memory provider for a window of size bytes
func (o Options) OpenProvider(ctx context.Context, size int) (memory.Provider, error) {
	switch o.Provider {
	case ProviderProcess:
		return memory.OpenProcess(o.Pid, o.BaseAddress, size)
	case ProviderDelve:
		if o.DelveAddr != "" {
			return memory.ConnectDelve(ctx, o.DelveAddr, o.BaseAddress, size)
		}
		if o.Pid <= 0 {
			return nil, fmt.Errorf("invalid pid %d", o.Pid)
		}
		return memory.AttachDelve(ctx, o.Pid, o.BaseAddress, size)
	case ProviderFile:
		if o.CaptureFile == "" {
			return nil, fmt.Errorf("the file provider needs a capture file")
		}
		data, err := recorder.LoadRawCapture(o.CaptureFile)
		if err != nil {
			return nil, err
		}
		return memory.NewBufferAt(data, o.BaseAddress), nil
	}
	return nil, fmt.Errorf("unknown provider %q", o.Provider)
}
