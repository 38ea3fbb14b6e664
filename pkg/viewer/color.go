package viewer

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// palette holds the object table colors
type palette struct {
	orange *color.Color
	green  *color.Color
	red    *color.Color
	grey   *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		orange: color.New(color.FgYellow),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		grey:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.orange, p.green, p.red, p.grey} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// UseColor reports whether output to w should be colored. NO_COLOR and
// non-terminal writers disable it.
func UseColor(w io.Writer) bool {
	if color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
