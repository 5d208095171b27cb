// Package display defines the Display Bridge (spec.md §6.2): the narrow
// seam between the core's BitBlt output and whatever host window system
// actually puts pixels on screen. The core only ever calls Surface; it
// never knows about terminals, framebuffers, or any other concrete host.
package display

// Surface is implemented by a concrete host display (internal/hostui's
// tcell-backed implementation, for example, or a test double).
type Surface interface {
	// CopyBits pushes a dirty rectangle of 1-bit-per-pixel words to the
	// screen (§6.2 display.copyBits). bits is raster-major, width bits
	// per row padded to raster words; firstLine/lastLine bound the rows
	// that actually changed so the host need not redraw everything.
	CopyBits(bits []uint16, raster, width, height, firstLine, lastLine int) error

	// SetCursor installs a 16x16 1-bit cursor bitmap with its hotspot
	// (§6.2 display.setCursor).
	SetCursor(bitmap [16]uint16, hotspotX, hotspotY int) error
}

// Null is a Surface that discards everything, useful for headless runs
// and tests that don't care about pixels.
type Null struct{}

func (Null) CopyBits(bits []uint16, raster, width, height, firstLine, lastLine int) error {
	return nil
}

func (Null) SetCursor(bitmap [16]uint16, hotspotX, hotspotY int) error { return nil }
