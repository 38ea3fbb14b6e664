package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/feed"
	"github.com/willibrandon/haloscope/pkg/logger"
	"github.com/willibrandon/haloscope/pkg/memory"
	"github.com/willibrandon/haloscope/pkg/recorder"
	"github.com/willibrandon/haloscope/pkg/replay"
	"github.com/willibrandon/haloscope/pkg/version"
	"github.com/willibrandon/haloscope/pkg/viewer"
)

func newViewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Open the interactive viewer on a live target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			provider, layout, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeProvider(provider)

			v := viewer.NewLive(provider, layout, os.Stdin, os.Stdout)
			v.SetColor(a.useColor())
			return ignoreCanceled(v.Run(ctx))
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var asJSON bool
	var rawPath string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Decode one capture and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			provider, layout, err := a.open(ctx)
			if err != nil {
				return err
			}
			raw, err := provider.Read(ctx)
			base := provider.BaseAddress()
			closeProvider(provider)
			if err != nil {
				return err
			}

			if rawPath != "" {
				if err := recorder.SaveRawCapture(rawPath, raw); err != nil {
					return err
				}
				logger.Log.WithField("path", rawPath).Info("Saved raw capture")
			}

			if asJSON {
				snap, err := engine.BuildSnapshot(raw, layout)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(feed.NewFrame(1, snap, err))
			}

			// one frozen capture so every panel shows the same state
			v := viewer.NewLive(memory.NewBufferAt(raw, base), layout, strings.NewReader(""), cmd.OutOrStdout())
			v.SetColor(a.useColor())
			for _, c := range []string{"refresh", "objects", "players", "globals"} {
				v.HandleCommand(ctx, c)
			}
			if v.Snapshot() == nil {
				return engine.ErrSnapshotUnavailable
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as a JSON frame")
	cmd.Flags().StringVar(&rawPath, "raw", "", "also save the raw capture to this file (.zst compresses)")
	return cmd
}

func newRecordCmd(a *app) *cobra.Command {
	var out string
	var maxFrames int
	var truncate bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record captures to a file until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			provider, layout, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeProvider(provider)

			rec, err := recorder.NewFileRecorder(out)
			if err != nil {
				return err
			}
			defer rec.Close()
			if truncate {
				rec.Clear()
			}

			logger.Log.WithFields(logrus.Fields{
				"path":        out,
				"interval":    a.opts.PollInterval,
				"compression": a.opts.Compression,
			}).Info("Recording")

			n, err := recorder.Record(ctx, provider, rec, recorder.RecordOptions{
				Interval:    a.opts.PollInterval,
				MaxFrames:   maxFrames,
				Layout:      layout.Name,
				Compression: a.opts.Compression,
			})
			logger.Log.WithField("captures", n).Info("Recording finished")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d captures, %d in %s\n", n, len(rec.GetCaptures()), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "haloscope.rec", "recording file")
	cmd.Flags().IntVarP(&maxFrames, "frames", "n", 0, "stop after this many captures")
	cmd.Flags().BoolVar(&truncate, "truncate", false, "start a new recording instead of appending")
	cmd.Flags().DurationVarP(&a.opts.PollInterval, "interval", "i", a.opts.PollInterval, "time between captures")
	cmd.Flags().StringVar(&a.compression, "compression", "", "capture compression: none or zstd")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <recording>",
		Short: "Step through a recording in the viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			layout, err := a.opts.Layout()
			if err != nil {
				return err
			}
			captures, err := recorder.LoadCaptures(args[0])
			if err != nil {
				return err
			}
			for _, c := range captures {
				if c.Layout != "" && c.Layout != layout.Name {
					logger.Log.WithFields(logrus.Fields{
						"recorded": c.Layout,
						"using":    layout.Name,
					}).Warn("Recording was made with a different layout")
					break
				}
			}

			r, err := replay.NewReplayer(layout, a.opts.CacheSize)
			if err != nil {
				return err
			}
			if err := r.LoadCaptures(captures); err != nil {
				return err
			}

			v := viewer.NewReplay(r, os.Stdin, os.Stdout)
			v.SetColor(a.useColor())
			return ignoreCanceled(v.Run(ctx))
		},
	}
	cmd.Flags().IntVar(&a.opts.CacheSize, "cache", a.opts.CacheSize, "decoded snapshots kept in memory")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream decoded snapshots to websocket clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			provider, layout, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeProvider(provider)

			hub := feed.NewHub(provider, layout, a.opts.PollInterval)
			srv := &http.Server{
				Addr:              a.opts.ListenAddr,
				Handler:           hub.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			hubDone := make(chan error, 1)
			go func() {
				hubDone <- hub.Run(ctx)
				cancel()
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				srv.Shutdown(shutdownCtx)
			}()

			logger.Log.Infof("Serving snapshots on ws://%s/ws", a.opts.ListenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				cancel()
				return err
			}
			return <-hubDone
		},
	}
	cmd.Flags().StringVar(&a.opts.ListenAddr, "listen", a.opts.ListenAddr, "address to serve on")
	cmd.Flags().DurationVarP(&a.opts.PollInterval, "interval", "i", a.opts.PollInterval, "time between captures")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
		},
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
