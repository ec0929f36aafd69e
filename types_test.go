package hbm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

var intersectTestCases = map[string]struct {
	Extent   Extent
	Other    Extent
	Expected Extent
}{
	"Buffer Shrinks": {
		Extent:   BufferExtent(1024),
		Other:    BufferExtent(512),
		Expected: BufferExtent(512),
	},
	"Buffer Stays": {
		Extent:   BufferExtent(512),
		Other:    BufferExtent(1024),
		Expected: BufferExtent(512),
	},
	"Image Shrinks Per Dimension": {
		Extent:   ImageExtent(1920, 1080),
		Other:    ImageExtent(1280, 2160),
		Expected: ImageExtent(1280, 1080),
	},
	"Image Stays": {
		Extent:   ImageExtent(640, 480),
		Other:    ImageExtent(1920, 1080),
		Expected: ImageExtent(640, 480),
	},
	"Max Buffer Yields Other": {
		Extent:   maxExtent(true),
		Other:    BufferExtent(4096),
		Expected: BufferExtent(4096),
	},
	"Max Image Yields Other": {
		Extent:   maxExtent(false),
		Other:    ImageExtent(800, 600),
		Expected: ImageExtent(800, 600),
	},
}

func TestExtentIntersect(t *testing.T) {
	for name, testCase := range intersectTestCases {
		t.Run(name, func(t *testing.T) {
			extent := testCase.Extent
			extent.intersect(testCase.Other)
			require.Equal(t, testCase.Expected, extent)
		})
	}
}

func TestExtentEmpty(t *testing.T) {
	require.True(t, BufferExtent(0).isEmpty())
	require.False(t, BufferExtent(1).isEmpty())
	require.True(t, ImageExtent(0, 1080).isEmpty())
	require.True(t, ImageExtent(1920, 0).isEmpty())
	require.False(t, ImageExtent(1, 1).isEmpty())
}

func TestMaxExtent(t *testing.T) {
	require.Equal(t, math.MaxInt, maxExtent(true).Size())
	require.Equal(t, maxImageDim, maxExtent(false).Width())
	require.Equal(t, maxImageDim, maxExtent(false).Height())
}

func TestExtentKindPanics(t *testing.T) {
	require.Panics(t, func() { BufferExtent(16).Width() })
	require.Panics(t, func() { BufferExtent(16).Height() })
	require.Panics(t, func() { ImageExtent(4, 4).Size() })
}

func TestExtentString(t *testing.T) {
	require.Equal(t, "buffer(1024)", BufferExtent(1024).String())
	require.Equal(t, "image(1920x1080)", ImageExtent(1920, 1080).String())
}

func TestModifierString(t *testing.T) {
	require.Equal(t, "ModLinear", ModLinear.String())
	require.Equal(t, "ModInvalid", ModInvalid.String())
	require.Equal(t, "0x100000000000001", Modifier(0x100000000000001).String())
}

func TestMapping(t *testing.T) {
	var unmapped Mapping
	require.False(t, unmapped.isValid())
	require.Nil(t, unmapped.Ptr())
	require.Equal(t, 0, unmapped.Len())

	mapped := Mapping{Data: make([]byte, 64)}
	require.True(t, mapped.isValid())
	require.NotNil(t, mapped.Ptr())
	require.Equal(t, 64, mapped.Len())
}
