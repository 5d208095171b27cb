// Package bitblt implements the BitBlt raster engine of spec.md §4.4: a
// parameterized block-bit transfer that copies a rectangle from a source
// form to a destination form, optionally through a 16x16 halftone tile,
// combining per-pixel via one of 16 boolean rules.
//
// The algorithm follows the classic Bluebook BitBlt shape (clip, compute
// skew/masks/direction, walk rows and words, shift-merge), the same
// "derive parameters once, then loop" structure
// _examples/cloudfly-readgo/runtime/mheap.go uses for its span allocator:
// expensive parameter derivation happens once per operation, not per word.
package bitblt

import "github.com/pkg/errors"

// Form is a rectangular bitmap: Bits holds Height*Raster words, row-major,
// each row padded up to a whole number of 16-bit words.
type Form struct {
	Bits   []uint16
	Width  int
	Height int
	Raster int // words per scan line
}

// NewForm allocates a zeroed form wide enough to hold width x height
// 1-bit-per-pixel pixels.
func NewForm(width, height int) *Form {
	raster := (width + 15) / 16
	if raster == 0 {
		raster = 1
	}
	return &Form{
		Bits:   make([]uint16, raster*height),
		Width:  width,
		Height: height,
		Raster: raster,
	}
}

func (f *Form) wordAt(row, wordIndex int) uint16 {
	return f.Bits[row*f.Raster+wordIndex]
}

func (f *Form) setWordAt(row, wordIndex int, v uint16) {
	f.Bits[row*f.Raster+wordIndex] = v
}

// Rule is one of the 16 Bluebook combination rules, addressable by a
// 0-15 index (§4.4 "must be addressable by a 0-15 index").
type Rule int

const (
	RuleClear       Rule = 0  // 0
	RuleAnd         Rule = 1  // s AND d
	RuleAndNotD     Rule = 2  // s AND (NOT d)
	RuleSrc         Rule = 3  // s
	RuleNotSAndD    Rule = 4  // (NOT s) AND d
	RuleDest        Rule = 5  // d
	RuleXor         Rule = 6  // s XOR d
	RuleOr          Rule = 7  // s OR d
	RuleNotSAndNotD Rule = 8  // (NOT s) AND (NOT d), i.e. NOR
	RuleNotXor      Rule = 9  // NOT (s XOR d)
	RuleNotD        Rule = 10 // NOT d
	RuleSOrNotD     Rule = 11 // s OR (NOT d)
	RuleNotS        Rule = 12 // NOT s
	RuleNotSOrD     Rule = 13 // (NOT s) OR d
	RuleNotSOrNotD  Rule = 14 // NOT (s AND d), i.e. NAND
	RuleSet         Rule = 15 // all ones
)

// combine applies the rule to one 16-bit word pair.
func combine(rule Rule, s, d uint16) uint16 {
	switch rule {
	case RuleClear:
		return 0
	case RuleAnd:
		return s & d
	case RuleAndNotD:
		return s &^ d
	case RuleSrc:
		return s
	case RuleNotSAndD:
		return ^s & d
	case RuleDest:
		return d
	case RuleXor:
		return s ^ d
	case RuleOr:
		return s | d
	case RuleNotSAndNotD:
		return ^s & ^d
	case RuleNotXor:
		return ^(s ^ d)
	case RuleNotD:
		return ^d
	case RuleSOrNotD:
		return s | ^d
	case RuleNotS:
		return ^s
	case RuleNotSOrD:
		return ^s | d
	case RuleNotSOrNotD:
		return ^(s & d)
	case RuleSet:
		return 0xFFFF
	default:
		return d
	}
}

// Point and Rect are plain integer geometry, no image/ dependency needed.
type Point struct{ X, Y int }
type Rect struct{ X, Y, W, H int }

// Op is one BitBlt invocation's full parameter set (§4.4 "per-operation
// state").
type Op struct {
	Dest      *Form
	Source    *Form // nil for halftone-only or clear-only operations
	Halftone  []uint16
	Rule      Rule
	SourceOrg Point
	DestOrg   Point
	Extent    Point // width, height of the copied rectangle
	ClipRect  Rect
}

// DirtyReporter receives the affected destination scan-line range after a
// successful copy, for display forms (§4.4 step 5, §6.2's copyBits).
type DirtyReporter interface {
	ReportDirty(firstLine, lastLine int)
}

// derived holds the parameters §4.4 computes once per operation before
// the row/word loop.
type derived struct {
	destRect       Rect // final clipped destination rectangle
	srcOrg         Point
	skew           int // horizontal bit shift between source and dest words
	hDir, vDir     int // +1 or -1, overlap-safe iteration direction
	preload        bool
	startMask      uint16
	endMask        uint16
	nWords         int
}

// Copy runs the BitBlt algorithm described in spec.md §4.4 and, if report
// is non-nil, tells it which destination scan lines changed.
func Copy(op Op, report DirtyReporter) error {
	if op.Dest == nil {
		return errors.New("bitblt: nil destination form")
	}
	d, ok := clip(op)
	if !ok {
		return nil // zero-area result: nothing to draw, not an error
	}
	runRows(op, d)
	if report != nil {
		first, last := d.destRect.Y, d.destRect.Y+d.destRect.H-1
		report.ReportDirty(first, last)
	}
	return nil
}

// clip implements §4.4 step 1-2: clip the destination rect against the
// clip rect and the destination form, then further clip so the implied
// source rectangle fits inside the source form. Returns ok=false if the
// resulting rectangle has zero or negative area.
func clip(op Op) (derived, bool) {
	dx, dy := op.DestOrg.X, op.DestOrg.Y
	w, h := op.Extent.X, op.Extent.Y
	sx, sy := op.SourceOrg.X, op.SourceOrg.Y

	// Clip against the explicit clip rect.
	w, h = clipRect(&dx, &dy, &sx, &sy, w, h, op.ClipRect)
	// Clip against the destination form's own bounds.
	w, h = clipRect(&dx, &dy, &sx, &sy, w, h, Rect{0, 0, op.Dest.Width, op.Dest.Height})
	if op.Source != nil {
		// Clip so the source rectangle stays inside the source form.
		w, h = clipSource(&dx, &dy, &sx, &sy, w, h, op.Source)
	}
	if w <= 0 || h <= 0 {
		return derived{}, false
	}

	hDir, vDir := 1, 1
	skew := 0
	if op.Source == op.Dest && op.Source != nil {
		// Overlapping blt of a form onto itself: walk in the direction
		// that never overwrites a source word before it is read.
		if dy > sy || (dy == sy && dx > sx) {
			hDir, vDir = -1, -1
		}
	}
	if op.Source != nil {
		skew = (dx - sx) & 15
	}

	startMask, endMask, nWords := edgeMasks(dx, w)

	return derived{
		destRect:  Rect{dx, dy, w, h},
		srcOrg:    Point{sx, sy},
		skew:      skew,
		hDir:      hDir,
		vDir:      vDir,
		preload:   op.Source != nil && skew != 0,
		startMask: startMask,
		endMask:   endMask,
		nWords:    nWords,
	}, true
}

// clipRect shrinks the (dx,dy,w,h) destination rectangle (carrying sx,sy
// along in lockstep) to fit inside bound.
func clipRect(dx, dy, sx, sy *int, w, h int, bound Rect) (int, int) {
	if *dx < bound.X {
		delta := bound.X - *dx
		*dx += delta
		*sx += delta
		w -= delta
	}
	if *dy < bound.Y {
		delta := bound.Y - *dy
		*dy += delta
		*sy += delta
		h -= delta
	}
	if *dx+w > bound.X+bound.W {
		w = bound.X + bound.W - *dx
	}
	if *dy+h > bound.Y+bound.H {
		h = bound.Y + bound.H - *dy
	}
	return w, h
}

// clipSource further shrinks the rectangle so the source side never
// reads outside the source form.
func clipSource(dx, dy, sx, sy *int, w, h int, src *Form) (int, int) {
	if *sx < 0 {
		delta := -*sx
		*sx += delta
		*dx += delta
		w -= delta
	}
	if *sy < 0 {
		delta := -*sy
		*sy += delta
		*dy += delta
		h -= delta
	}
	if *sx+w > src.Width {
		w = src.Width - *sx
	}
	if *sy+h > src.Height {
		h = src.Height - *sy
	}
	return w, h
}

// edgeMasks computes the boundary word masks and row word count for a
// destination rectangle starting at bit column x with width w (§4.4
// "startBits, endBits, and boundary masks mask1, mask2").
func edgeMasks(x, w int) (start, end uint16, nWords int) {
	startBit := x & 15
	totalBits := startBit + w
	nWords = (totalBits + 15) / 16

	start = 0xFFFF >> uint(startBit)
	endBit := totalBits & 15
	if endBit == 0 {
		end = 0xFFFF
	} else {
		end = ^(0xFFFF >> uint(endBit))
	}
	if nWords == 1 {
		start &= end
		end = start
	}
	return start, end, nWords
}

// runRows walks the destination rows and words per §4.4 step 4, merging
// source (skewed), halftone, and destination per the combination rule.
func runRows(op Op, d derived) {
	for row := 0; row < d.destRect.H; row++ {
		runRow(op, d, destRowIndex(d, row))
	}
}

// destRowIndex resolves the actual destination row for iteration index
// row, honoring vDir so overlapping self-blts never clobber unread
// source rows.
func destRowIndex(d derived, row int) int {
	if d.vDir >= 0 {
		return d.destRect.Y + row
	}
	return d.destRect.Y + d.destRect.H - 1 - row
}

func runRow(op Op, d derived, destRow int) {
	srcRow := d.srcOrg.Y + (destRow - d.destRect.Y)
	halftoneWord := uint16(0xFFFF)
	if op.Halftone != nil {
		halftoneWord = op.Halftone[destRow%16]
	}

	destStartWord := d.destRect.X / 16
	srcStartWord := d.srcOrg.X / 16

	var prevSrc uint16
	if op.Source != nil && d.preload {
		// Prime the 32-bit shift register with the source word just
		// before the scan, so the first assembled word has both halves.
		firstSrcWord := srcStartWord - d.hDir
		if firstSrcWord >= 0 && firstSrcWord < op.Source.Raster {
			prevSrc = op.Source.wordAt(srcRow, firstSrcWord)
		}
	}

	for i := 0; i < d.nWords; i++ {
		wi := i
		if d.hDir < 0 {
			wi = d.nWords - 1 - i
		}
		destWordIdx := destStartWord + wi
		if destWordIdx < 0 || destWordIdx >= op.Dest.Raster {
			continue
		}

		var srcWord uint16
		if op.Source != nil {
			srcWordIdx := srcStartWord + wi
			var cur uint16
			if srcWordIdx >= 0 && srcWordIdx < op.Source.Raster {
				cur = op.Source.wordAt(srcRow, srcWordIdx)
			}
			if d.skew == 0 {
				srcWord = cur
			} else {
				srcWord = prevSrc<<(16-uint(d.skew)) | cur>>uint(d.skew)
			}
			prevSrc = cur
		}

		mask := uint16(0xFFFF)
		if wi == 0 {
			mask &= d.startMask
		}
		if wi == d.nWords-1 {
			mask &= d.endMask
		}

		srcWord &= halftoneWord
		destWord := op.Dest.wordAt(destRow, destWordIdx)
		merged := combine(op.Rule, srcWord, destWord)
		op.Dest.setWordAt(destRow, destWordIdx, (merged&mask)|(destWord&^mask))
	}
}
