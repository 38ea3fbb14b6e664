package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/willibrandon/haloscope/pkg/config"
	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/logger"
	"github.com/willibrandon/haloscope/pkg/memory"
	"github.com/willibrandon/haloscope/pkg/recorder"
	"github.com/willibrandon/haloscope/pkg/version"
	"github.com/willibrandon/haloscope/pkg/viewer"
)

// app carries the options every subcommand shares
type app struct {
	opts        config.Options
	envErr      error
	processName string
	baseHex     string
	compression string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	a.opts, a.envErr = config.LoadFromEnvironment()

	root := &cobra.Command{
		Use:           "haloscope",
		Short:         "Inspect the engine state of a running Halo instance",
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.SetVersionTemplate(version.GetVersionInfo() + "\n")

	f := root.PersistentFlags()
	f.StringVar(&a.opts.Provider, "provider", a.opts.Provider, "memory provider: process, delve or file")
	f.IntVarP(&a.opts.Pid, "pid", "p", a.opts.Pid, "emulator process id (found by name when unset)")
	f.StringVar(&a.processName, "process", memory.DefaultProcessName, "emulator executable name used to find the pid")
	f.StringVarP(&a.baseHex, "base", "b", "", "host address of guest memory, in hex")
	f.StringVar(&a.opts.DelveAddr, "delve-addr", a.opts.DelveAddr, "address of a running headless dlv server")
	f.StringVarP(&a.opts.CaptureFile, "capture", "f", a.opts.CaptureFile, "raw capture read by the file provider")
	f.StringVarP(&a.opts.LayoutFile, "layout", "l", a.opts.LayoutFile, "YAML layout descriptor")
	f.IntVar(&a.opts.CaptureSize, "capture-size", a.opts.CaptureSize, "override the layout's capture window size")
	f.BoolVar(&a.opts.NoColor, "no-color", a.opts.NoColor, "disable colored output")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newViewCmd(a),
		newDumpCmd(a),
		newRecordCmd(a),
		newReplayCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	logger.InitWithOutput(os.Stderr)
	if a.verbose {
		logger.Log.SetLevel(logrus.DebugLevel)
	}
	if a.envErr != nil {
		return a.envErr
	}
	if a.baseHex != "" {
		base, err := memory.ParseAddress(a.baseHex)
		if err != nil {
			return fmt.Errorf("--base: %w", err)
		}
		a.opts.BaseAddress = base
	}
	if a.compression != "" {
		ct, err := recorder.ParseCompression(a.compression)
		if err != nil {
			return fmt.Errorf("--compression: %w", err)
		}
		a.opts.Compression = ct
	}
	return nil
}

// signalContext is cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// open loads the layout and the configured provider, looking the emulator
// up by name when no pid was given
func (a *app) open(ctx context.Context) (memory.Provider, engine.Layout, error) {
	layout, err := a.opts.Layout()
	if err != nil {
		return nil, layout, err
	}

	needsPid := a.opts.Provider == config.ProviderProcess ||
		(a.opts.Provider == config.ProviderDelve && a.opts.DelveAddr == "")
	if needsPid && a.opts.Pid == 0 {
		pid, err := memory.FindProcess(a.processName)
		if err != nil {
			return nil, layout, err
		}
		logger.Log.WithFields(logrus.Fields{
			"process": a.processName,
			"pid":     pid,
		}).Info("Found emulator process")
		a.opts.Pid = pid
	}

	provider, err := a.opts.OpenProvider(ctx, int(layout.CaptureSize))
	if err != nil {
		return nil, layout, err
	}
	logger.Log.WithFields(logrus.Fields{
		"provider": a.opts.Provider,
		"base":     fmt.Sprintf("0x%X", provider.BaseAddress()),
		"layout":   layout.Name,
	}).Debug("Opened memory provider")
	return provider, layout, nil
}

func (a *app) useColor() bool {
	return !a.opts.NoColor && viewer.UseColor(os.Stdout)
}

func closeProvider(p memory.Provider) {
	if err := p.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close memory provider")
	}
}
