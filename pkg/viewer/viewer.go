// Package viewer is an interactive terminal view of decoded snapshots.
package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/logger"
	"github.com/willibrandon/haloscope/pkg/memory"
	"github.com/willibrandon/haloscope/pkg/recorder"
	"github.com/willibrandon/haloscope/pkg/replay"
)

// Viewer runs the command loop. It shows either a live target through a
// memory provider or a recording through a replayer.
type Viewer struct {
	in  *bufio.Reader
	out io.Writer
	pal palette

	layout   engine.Layout
	provider memory.Provider
	replayer *replay.Replayer
	watches  *replay.WatchManager

	raw     []byte
	snap    *engine.EngineSnapshot
	snapErr error
	target  int
	running bool
}

// NewLive creates a viewer over a running target
func NewLive(provider memory.Provider, layout engine.Layout, in io.Reader, out io.Writer) *Viewer {
	return &Viewer{
		in:       bufio.NewReader(in),
		out:      out,
		pal:      newPalette(false),
		layout:   layout,
		provider: provider,
	}
}

// NewReplay creates a viewer over a recording
func NewReplay(r *replay.Replayer, in io.Reader, out io.Writer) *Viewer {
	return &Viewer{
		in:       bufio.NewReader(in),
		out:      out,
		pal:      newPalette(false),
		layout:   r.Layout(),
		replayer: r,
		watches:  replay.NewWatchManager(),
	}
}

// SetColor turns colored output on or off
func (v *Viewer) SetColor(enabled bool) {
	v.pal = newPalette(enabled)
}

// Snapshot returns the snapshot currently shown, or nil
func (v *Viewer) Snapshot() *engine.EngineSnapshot {
	return v.snap
}

// Target returns the selected object index
func (v *Viewer) Target() int {
	return v.target
}

func (v *Viewer) live() bool {
	return v.provider != nil
}

func (v *Viewer) printf(format string, args ...interface{}) {
	fmt.Fprintf(v.out, format, args...)
}

func (v *Viewer) println(args ...interface{}) {
	fmt.Fprintln(v.out, args...)
}

// Run reads commands until quit, end of input or ctx is done
func (v *Viewer) Run(ctx context.Context) error {
	v.running = true

	v.println("Haloscope")
	if v.live() {
		v.printf("Attached at 0x%X, layout %s\n", v.provider.BaseAddress(), v.layout.Name)
	} else {
		v.printf("Replaying %d captures, layout %s\n", v.replayer.Len(), v.layout.Name)
	}
	v.refresh(ctx)
	v.printHelp()

	for v.running {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.printf("(haloscope) ")
		input, err := v.in.ReadString('\n')
		if input = strings.TrimSpace(input); input != "" {
			v.HandleCommand(ctx, input)
		}
		if err == io.EOF {
			v.println()
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// printHelp displays available commands
func (v *Viewer) printHelp() {
	v.println("\nAvailable commands:")
	v.println("  refresh (r)              - Decode the current memory again")
	v.println("  objects (o) [all]        - Show the object table, all includes free slots")
	v.println("  players (p)              - Show local player units and positions")
	v.println("  globals (g)              - Show the player globals")
	v.println("  tags (t) [filter]        - List tag paths")
	v.println("  target <index>           - Select an object slot")
	v.println("  set [index] <x> <y> <z>  - Move an object, defaults to the target")
	v.println("  save <file>              - Write the raw capture to a file (.zst compresses)")

	if !v.live() {
		v.println("\nReplay commands:")
		v.println("  next (n)                 - Step forward one capture")
		v.println("  back (b)                 - Step backward one capture")
		v.println("  seek <n>                 - Jump to capture n")
		v.println("  watch add <spec>         - Watch slot:<n>, player:<n> or tag:<text>")
		v.println("  watch list               - List watches")
		v.println("  watch remove <id>        - Remove a watch")
		v.println("  watch enable|disable <id>")
		v.println("  watch run (c)            - Replay until a watch fires")
	}

	v.println("\nGeneral commands:")
	v.println("  help (h)                 - Show this help message")
	v.println("  quit (q)                 - Exit")
}

// HandleCommand processes one line of input
func (v *Viewer) HandleCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		v.printHelp()
	case "r", "refresh":
		v.refresh(ctx)
		v.printStatus()
	case "o", "objects":
		v.refreshLive(ctx)
		v.printObjects(len(args) > 0 && args[0] == "all")
	case "p", "players":
		v.refreshLive(ctx)
		v.printPlayers()
	case "g", "globals":
		v.refreshLive(ctx)
		v.printGlobals()
	case "t", "tags":
		v.printTags(strings.Join(args, " "))
	case "target":
		v.handleTarget(args)
	case "set":
		v.handleSet(ctx, args)
	case "save":
		v.handleSave(args)
	case "n", "next":
		v.handleStep(1)
	case "b", "back":
		v.handleStep(-1)
	case "seek":
		v.handleSeek(args)
	case "w", "watch":
		v.handleWatch(args)
	case "c", "continue":
		v.handleWatch([]string{"run"})
	case "q", "quit", "exit":
		v.running = false
	default:
		v.printf("Unknown command: %s\n", cmd)
		v.printHelp()
	}
}

// refresh reads and decodes the current capture
func (v *Viewer) refresh(ctx context.Context) {
	var raw []byte
	var err error
	if v.live() {
		raw, err = v.provider.Read(ctx)
	} else {
		raw, err = v.replayer.RawAt(v.replayer.CurrentIndex())
	}
	if err != nil {
		v.raw, v.snap, v.snapErr = nil, nil, err
		logger.Log.WithError(err).Debug("Failed to read capture")
		return
	}

	v.raw = raw
	if v.live() {
		v.snap, v.snapErr = engine.BuildSnapshot(raw, v.layout)
	} else {
		v.snap, v.snapErr = v.replayer.Current()
	}
	if v.snapErr != nil {
		logger.Log.WithError(v.snapErr).Debug("Snapshot unavailable")
	}
}

// refreshLive re-reads a live target; a recording only changes on step
func (v *Viewer) refreshLive(ctx context.Context) {
	if v.live() {
		v.refresh(ctx)
	}
}

// ready prints why nothing can be shown and reports whether a snapshot exists
func (v *Viewer) ready() bool {
	if v.snap != nil {
		return true
	}
	if v.snapErr != nil {
		v.printf("Snapshot unavailable: %v\n", v.snapErr)
	} else {
		v.println("Snapshot unavailable")
	}
	return false
}

func (v *Viewer) printStatus() {
	if !v.live() {
		v.printf("Capture %d of %d\n", v.replayer.CurrentIndex()+1, v.replayer.Len())
	}
	if !v.ready() {
		return
	}
	v.printf("%d objects, %d players, %d tags\n",
		v.snap.OccupiedCount(), len(v.snap.LivePlayers()), len(v.snap.Tags))
}

func (v *Viewer) handleTarget(args []string) {
	if len(args) != 1 {
		v.printf("Current target: %d\n", v.target)
		return
	}
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 || index >= v.layout.MaxObjects {
		v.printf("Invalid object index: %s\n", args[0])
		return
	}
	v.target = index
	v.printf("Target set to %d\n", index)
}

func (v *Viewer) handleSet(ctx context.Context, args []string) {
	if !v.live() {
		v.println("Position edits need a live target")
		return
	}

	index := v.target
	switch len(args) {
	case 3:
	case 4:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			v.printf("Invalid object index: %s\n", args[0])
			return
		}
		index = n
		args = args[1:]
	default:
		v.println("Usage: set [index] <x> <y> <z>")
		return
	}

	var coords [3]float32
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			v.printf("Invalid coordinate: %s\n", a)
			return
		}
		coords[i] = float32(f)
	}
	pos := engine.Vector3{X: coords[0], Y: coords[1], Z: coords[2]}

	v.refresh(ctx)
	if !v.ready() {
		return
	}
	offset, err := v.snap.PositionOffset(index)
	if err != nil {
		v.printf("Cannot move object: %v\n", err)
		return
	}
	if err := v.provider.Write(ctx, offset, engine.EncodePosition(pos)); err != nil {
		v.printf("Failed to write position: %v\n", err)
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"index":  index,
		"offset": fmt.Sprintf("0x%08X", offset),
		"pos":    pos.String(),
	}).Info("Wrote object position")
	v.printf("Moved object %d to %s\n", index, pos)
}

func (v *Viewer) handleSave(args []string) {
	if len(args) != 1 {
		v.println("Usage: save <file>")
		return
	}
	if v.raw == nil {
		v.println("Nothing captured yet")
		return
	}
	if err := recorder.SaveRawCapture(args[0], v.raw); err != nil {
		v.printf("Failed to save capture: %v\n", err)
		return
	}
	v.printf("Saved %d bytes to %s\n", len(v.raw), args[0])
}

func (v *Viewer) handleStep(delta int) {
	if v.live() {
		v.println("Stepping needs a recording")
		return
	}

	var idx int
	var err error
	if delta > 0 {
		idx, err = v.replayer.Step()
	} else {
		idx, err = v.replayer.StepBackward()
	}
	if err != nil {
		v.printf("Cannot step: %v\n", err)
		return
	}
	v.refresh(context.Background())
	v.printf("Moved to capture %d\n", idx)
	v.printStatus()
}

func (v *Viewer) handleSeek(args []string) {
	if v.live() {
		v.println("Seeking needs a recording")
		return
	}
	if len(args) != 1 {
		v.println("Usage: seek <n>")
		return
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		v.printf("Invalid capture index: %s\n", args[0])
		return
	}
	if err := v.replayer.Seek(idx); err != nil {
		v.printf("Cannot seek: %v\n", err)
		return
	}
	v.refresh(context.Background())
	v.printf("Moved to capture %d\n", idx)
	v.printStatus()
}

// handleWatch handles all watch-related commands
func (v *Viewer) handleWatch(args []string) {
	if v.live() {
		v.println("Watches need a recording")
		return
	}
	if len(args) == 0 {
		v.println("Usage: watch add|list|remove|enable|disable|run [args]")
		return
	}

	switch args[0] {
	case "add":
		if len(args) != 2 {
			v.println("Usage: watch add <slot:n|player:n|tag:text>")
			return
		}
		w, err := v.watches.AddWatch(args[1])
		if err != nil {
			v.printf("Failed to add watch: %v\n", err)
			return
		}
		v.printf("Watch %s added\n", w)
	case "list", "ls":
		watches := v.watches.GetWatches()
		if len(watches) == 0 {
			v.println("No watches")
			return
		}
		for _, w := range watches {
			v.printf("  %s\n", w)
		}
	case "remove", "rm", "enable", "disable":
		verb := args[0]
		if verb == "rm" {
			verb = "remove"
		}
		if len(args) != 2 {
			v.printf("Usage: watch %s <id>\n", args[0])
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			v.printf("Invalid watch ID: %s\n", args[1])
			return
		}
		switch verb {
		case "enable":
			err = v.watches.EnableWatch(id)
		case "disable":
			err = v.watches.DisableWatch(id)
		default:
			err = v.watches.RemoveWatch(id)
		}
		if err != nil {
			v.printf("Error: %v\n", err)
			return
		}
		v.printf("Watch %d %sd\n", id, strings.TrimSuffix(verb, "e"))
	case "run":
		hit, err := v.replayer.ReplayUntilWatch(v.watches)
		if err != nil && !errors.Is(err, replay.ErrNoCaptures) {
			v.printf("Replay failed: %v\n", err)
			return
		}
		v.refresh(context.Background())
		if hit == nil {
			v.printf("No watch fired, at capture %d\n", v.replayer.CurrentIndex())
			return
		}
		for _, w := range hit.Watches {
			v.printf("Watch %s fired at capture %d\n", w, hit.Index)
		}
		v.printStatus()
	default:
		v.printf("Unknown watch command: %s\n", args[0])
	}
}
