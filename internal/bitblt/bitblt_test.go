package bitblt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhawala/ST80-sub000/internal/bitblt"
)

type recordingReporter struct {
	first, last int
	called      bool
}

func (r *recordingReporter) ReportDirty(first, last int) {
	r.first, r.last, r.called = first, last, true
}

func TestCopyPlainSourceRule(t *testing.T) {
	src := bitblt.NewForm(16, 2)
	src.Bits[0] = 0xAAAA
	src.Bits[1] = 0x5555
	dst := bitblt.NewForm(16, 2)

	err := bitblt.Copy(bitblt.Op{
		Dest:   dst,
		Source: src,
		Rule:   bitblt.RuleSrc,
		Extent: bitblt.Point{X: 16, Y: 2},
		ClipRect: bitblt.Rect{X: 0, Y: 0, W: 16, H: 2},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint16(0xAAAA), dst.Bits[0])
	assert.Equal(t, uint16(0x5555), dst.Bits[1])
}

func TestCopyClipsAgainstDestForm(t *testing.T) {
	src := bitblt.NewForm(16, 4)
	for i := range src.Bits {
		src.Bits[i] = 0xFFFF
	}
	dst := bitblt.NewForm(16, 2) // only 2 rows tall: a 4-row blt must clip

	reporter := &recordingReporter{}
	err := bitblt.Copy(bitblt.Op{
		Dest:     dst,
		Source:   src,
		Rule:     bitblt.RuleSrc,
		Extent:   bitblt.Point{X: 16, Y: 4},
		ClipRect: bitblt.Rect{X: 0, Y: 0, W: 16, H: 4},
	}, reporter)
	require.NoError(t, err)

	require.True(t, reporter.called)
	assert.Equal(t, 0, reporter.first)
	assert.Equal(t, 1, reporter.last, "dest form is only 2 rows tall, so the blt clips to rows [0,1]")
	for _, w := range dst.Bits {
		assert.Equal(t, uint16(0xFFFF), w)
	}
}

func TestCopyZeroAreaAfterClipDrawsNothing(t *testing.T) {
	src := bitblt.NewForm(16, 16)
	dst := bitblt.NewForm(16, 16)
	dst.Bits[0] = 0x1234

	reporter := &recordingReporter{}
	err := bitblt.Copy(bitblt.Op{
		Dest:      dst,
		Source:    src,
		Rule:      bitblt.RuleSrc,
		DestOrg:   bitblt.Point{X: 0, Y: 20}, // entirely below the dest form
		Extent:    bitblt.Point{X: 16, Y: 4},
		ClipRect:  bitblt.Rect{X: 0, Y: 0, W: 16, H: 16},
	}, reporter)
	require.NoError(t, err)

	assert.False(t, reporter.called, "no dirty range should be reported for a no-op blt")
	assert.Equal(t, uint16(0x1234), dst.Bits[0], "destination must be untouched")
}

func TestCopyAndRule(t *testing.T) {
	src := bitblt.NewForm(16, 1)
	src.Bits[0] = 0xFF00
	dst := bitblt.NewForm(16, 1)
	dst.Bits[0] = 0x0FF0

	err := bitblt.Copy(bitblt.Op{
		Dest:     dst,
		Source:   src,
		Rule:     bitblt.RuleAnd,
		Extent:   bitblt.Point{X: 16, Y: 1},
		ClipRect: bitblt.Rect{X: 0, Y: 0, W: 16, H: 1},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint16(0xFF00&0x0FF0), dst.Bits[0])
}

func TestCopyHonorsHalftone(t *testing.T) {
	src := bitblt.NewForm(16, 1)
	src.Bits[0] = 0xFFFF
	dst := bitblt.NewForm(16, 1)
	halftone := make([]uint16, 16)
	halftone[0] = 0x00FF // only the low byte of row 0 is let through

	err := bitblt.Copy(bitblt.Op{
		Dest:     dst,
		Source:   src,
		Halftone: halftone,
		Rule:     bitblt.RuleSrc,
		Extent:   bitblt.Point{X: 16, Y: 1},
		ClipRect: bitblt.Rect{X: 0, Y: 0, W: 16, H: 1},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x00FF), dst.Bits[0])
}
