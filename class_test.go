package hbm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptionValid(t *testing.T) {
	require.True(t, Description{Modifier: ModInvalid}.isValid())
	require.False(t, Description{Modifier: ModLinear}.isValid())
	require.False(t, Description{Modifier: Modifier(42)}.isValid())
	require.True(t, Description{Format: FormatR8, Modifier: ModLinear}.isValid())
	require.True(t, Description{Format: FormatR8, Modifier: ModInvalid}.isValid())
}

func TestConstraintAlignments(t *testing.T) {
	var nilCon *Constraint
	offset, stride, size := nilCon.alignments()
	require.Equal(t, 1, offset)
	require.Equal(t, 1, stride)
	require.Equal(t, 1, size)

	offset, stride, size = (&Constraint{StrideAlign: 64}).alignments()
	require.Equal(t, 1, offset)
	require.Equal(t, 64, stride)
	require.Equal(t, 1, size)
}

var mergeTestCases = map[string]struct {
	Into     Constraint
	Other    Constraint
	Expected Constraint
	Panics   bool
}{
	"Larger Wins": {
		Into:     Constraint{OffsetAlign: 4, StrideAlign: 8, SizeAlign: 16},
		Other:    Constraint{OffsetAlign: 8, StrideAlign: 4, SizeAlign: 64},
		Expected: Constraint{OffsetAlign: 8, StrideAlign: 8, SizeAlign: 64},
	},
	"Zero Behaves As One": {
		Into:     Constraint{},
		Other:    Constraint{StrideAlign: 256},
		Expected: Constraint{OffsetAlign: 1, StrideAlign: 256, SizeAlign: 1},
	},
	"Modifiers Adopted": {
		Into:     Constraint{},
		Other:    Constraint{Modifiers: []Modifier{ModLinear}},
		Expected: Constraint{OffsetAlign: 1, StrideAlign: 1, SizeAlign: 1, Modifiers: []Modifier{ModLinear}},
	},
	"Non-Multiple Panics": {
		Into:   Constraint{SizeAlign: 4},
		Other:  Constraint{SizeAlign: 6},
		Panics: true,
	},
	"Dual Allowlists Panic": {
		Into:   Constraint{Modifiers: []Modifier{ModLinear}},
		Other:  Constraint{Modifiers: []Modifier{Modifier(42)}},
		Panics: true,
	},
}

func TestConstraintMerge(t *testing.T) {
	for name, testCase := range mergeTestCases {
		t.Run(name, func(t *testing.T) {
			into := testCase.Into
			if testCase.Panics {
				require.Panics(t, func() { into.merge(&testCase.Other) })
				return
			}
			into.merge(&testCase.Other)
			require.Equal(t, testCase.Expected, into)
		})
	}
}

var fitTestCases = map[string]struct {
	Layout     Layout
	Constraint *Constraint
	Fits       bool
}{
	"Nil Constraint Always Fits": {
		Layout: Layout{Size: 64, PlaneCount: 1, Strides: [4]int{8}},
		Fits:   true,
	},
	"Stride Multiple Fits": {
		Layout:     Layout{Size: 96, PlaneCount: 1, Strides: [4]int{8}},
		Constraint: &Constraint{StrideAlign: 8},
		Fits:       true,
	},
	"Stride Non-Multiple Fails": {
		Layout:     Layout{Size: 96, PlaneCount: 1, Strides: [4]int{12}},
		Constraint: &Constraint{StrideAlign: 8},
		Fits:       false,
	},
	"Offset Non-Multiple Fails": {
		Layout:     Layout{Size: 96, PlaneCount: 2, Offsets: [4]int{0, 36}, Strides: [4]int{8, 4}},
		Constraint: &Constraint{OffsetAlign: 8},
		Fits:       false,
	},
	"Plane Distances Meet Size Align": {
		Layout:     Layout{Size: 96, PlaneCount: 2, Offsets: [4]int{64, 0}, Strides: [4]int{8, 8}},
		Constraint: &Constraint{SizeAlign: 32},
		Fits:       true,
	},
	"Last Plane Too Small For Size Align": {
		Layout:     Layout{Size: 96, PlaneCount: 2, Offsets: [4]int{64, 0}, Strides: [4]int{8, 8}},
		Constraint: &Constraint{SizeAlign: 48},
		Fits:       false,
	},
	"Size Align Is Not A Strict Multiple": {
		Layout:     Layout{Size: 96, PlaneCount: 1, Strides: [4]int{8}},
		Constraint: &Constraint{SizeAlign: 48},
		Fits:       true,
	},
}

func TestLayoutFit(t *testing.T) {
	for name, testCase := range fitTestCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.Fits, testCase.Layout.fit(testCase.Constraint))
		})
	}
}

func TestPackedLayoutBuffer(t *testing.T) {
	class := NewClass(Description{Modifier: ModInvalid}, Usage{}, ClassInfo{
		MaxExtent: maxExtent(true),
	})

	layout, err := packedLayout(class, BufferExtent(100), &Constraint{SizeAlign: 64})
	require.NoError(t, err)
	require.Equal(t, 128, layout.Size)
	require.Equal(t, 0, layout.PlaneCount)
}

func TestPackedLayoutNeedsLinear(t *testing.T) {
	class := NewClass(Description{Format: FormatR8, Modifier: ModInvalid}, Usage{}, ClassInfo{
		MaxExtent: maxExtent(false),
		Modifiers: []Modifier{ModInvalid},
	})

	_, err := packedLayout(class, ImageExtent(8, 8), nil)
	require.ErrorIs(t, err, ErrInvalidParam)
}

var validateTestCases = map[string]struct {
	Max    Extent
	Extent Extent
	Valid  bool
}{
	"Buffer In Range":       {Max: BufferExtent(4096), Extent: BufferExtent(4096), Valid: true},
	"Buffer Zero":           {Max: BufferExtent(4096), Extent: BufferExtent(0), Valid: false},
	"Buffer Too Large":      {Max: BufferExtent(4096), Extent: BufferExtent(4097), Valid: false},
	"Image In Range":        {Max: ImageExtent(4096, 4096), Extent: ImageExtent(1920, 1080), Valid: true},
	"Image Zero Width":      {Max: ImageExtent(4096, 4096), Extent: ImageExtent(0, 1080), Valid: false},
	"Image Height Exceeded": {Max: ImageExtent(4096, 4096), Extent: ImageExtent(1920, 4097), Valid: false},
}

func TestClassValidate(t *testing.T) {
	for name, testCase := range validateTestCases {
		t.Run(name, func(t *testing.T) {
			desc := Description{Modifier: ModInvalid}
			if !testCase.Max.IsBuffer() {
				desc = Description{Format: FormatR8, Modifier: ModLinear}
			}
			class := NewClass(desc, Usage{}, ClassInfo{MaxExtent: testCase.Max})
			require.Equal(t, testCase.Valid, class.validate(testCase.Extent))
		})
	}
}
