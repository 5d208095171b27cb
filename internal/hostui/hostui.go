// Package hostui is the one concrete Display Bridge / Event Bridge
// implementation this repo ships: a terminal front end built on
// gdamore/tcell/v2, grounded on
// _examples/other_examples/manifests/lookbusy1344-arm_emulator/go.mod
// and junegunn-fzf/go.mod (terminal UIs for machine emulators/tools in
// the retrieved pack). It renders BitBlt's monochrome dirty scan-line
// ranges as a block-character grid and translates terminal key/mouse
// events into the 16-bit words of spec.md §6.3. A resize event only
// resynchronizes the terminal screen; it produces no event word.
//
// This is a CLI convenience layer, not part of the interpreter core:
// internal/display and internal/event define the interfaces the core
// actually depends on, and any headless test can use display.Null and a
// hand-fed event.Queue instead of this package.
package hostui

import (
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/devhawala/ST80-sub000/internal/event"
)

// block is the full-cell glyph used to render a set pixel; half-height
// cells would need a font tcell can't guarantee, so one pixel maps to
// one terminal cell here.
const block = '█'

// Host wraps a tcell.Screen as both a display.Surface and an
// event.Source.
type Host struct {
	screen tcell.Screen

	mu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
}

// New opens a tcell screen. Callers must call Close when done.
func New() (*Host, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.SetStyle(tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorBlack))
	screen.Clear()
	return &Host{screen: screen, stop: make(chan struct{})}, nil
}

// Close tears down the terminal screen.
func (h *Host) Close() { h.screen.Fini() }

// CopyBits implements display.Surface by rendering the changed rows as
// block characters, one terminal cell per source pixel.
func (h *Host) CopyBits(bits []uint16, raster, width, height, firstLine, lastLine int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for row := firstLine; row <= lastLine && row < height; row++ {
		if row < 0 {
			continue
		}
		for col := 0; col < width; col++ {
			wordIdx := row*raster + col/16
			if wordIdx < 0 || wordIdx >= len(bits) {
				continue
			}
			bit := (bits[wordIdx] >> uint(15-col%16)) & 1
			ch := ' '
			if bit != 0 {
				ch = block
			}
			h.screen.SetContent(col, row, ch, nil, tcell.StyleDefault)
		}
	}
	h.screen.Show()
	return nil
}

// SetCursor implements display.Surface; tcell has no bitmap-cursor
// primitive, so this repositions the terminal's own text cursor to the
// hotspot as the closest available approximation.
func (h *Host) SetCursor(bitmap [16]uint16, hotspotX, hotspotY int) error {
	h.screen.ShowCursor(hotspotX, hotspotY)
	return nil
}

// Start implements event.Source: runs tcell's event loop on its own
// goroutine, translating each terminal event into one or more
// event.Word values pushed to push, until Stop is called.
func (h *Host) Start(push func(event.Word)) {
	go h.run(push)
}

func (h *Host) run(push func(event.Word)) {
	lastMouseX, lastMouseY := -1, -1
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		ev := h.screen.PollEvent()
		switch e := ev.(type) {
		case *tcell.EventKey:
			push(event.KeyDown(keyCode(e)))
		case *tcell.EventMouse:
			x, y := e.Position()
			if lastMouseX >= 0 {
				if dx := x - lastMouseX; dx != 0 {
					push(event.MouseDeltaX(dx))
				}
				if dy := y - lastMouseY; dy != 0 {
					push(event.MouseDeltaY(dy))
				}
			}
			lastMouseX, lastMouseY = x, y
			if btn := e.Buttons(); btn&tcell.Button1 != 0 {
				push(event.KeyDown(event.KeyMouseLeft))
			}
		case *tcell.EventResize:
			h.screen.Sync()
		case nil:
			return
		}
	}
}

// Stop ends the event loop started by Start; safe to call more than
// once or before Start.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		// tcell's PollEvent only returns once another event arrives or
		// the screen is finalized; posting an interrupt unblocks it
		// promptly instead of leaving run() parked indefinitely.
		h.screen.PostEventWait(tcell.NewEventInterrupt(nil))
	})
}

// keyCode maps a tcell key event to the 12-bit code spec.md §6.3
// expects: printable runes pass through as ASCII, named keys map to
// the documented special codes where one exists.
func keyCode(e *tcell.EventKey) int {
	switch e.Key() {
	case tcell.KeyRune:
		return int(e.Rune())
	case tcell.KeyCtrlA, tcell.KeyCtrlZ:
		return event.KeyControl
	default:
		return int(e.Key())
	}
}

// RefreshTick is a ~24ms display-refresh period. Nothing in this
// repository reads it: internal/vm runs no refresh loop and does not
// forward BitBlt damage to a Host.
const RefreshTick = 24 * time.Millisecond
