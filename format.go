package hbm

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// fourccCode packs four characters into a little-endian fourcc, matching
// drm_fourcc.h.
const (
	FormatInvalid Format = 0

	FormatR8            Format = 'R' | '8'<<8 | ' '<<16 | ' '<<24
	FormatBGR565        Format = 'B' | 'G'<<8 | '1'<<16 | '6'<<24
	FormatRGB565        Format = 'R' | 'G'<<8 | '1'<<16 | '6'<<24
	FormatGR88          Format = 'G' | 'R'<<8 | '8'<<16 | '8'<<24
	FormatR16           Format = 'R' | '1'<<8 | '6'<<16 | ' '<<24
	FormatBGR888        Format = 'B' | 'G'<<8 | '2'<<16 | '4'<<24
	FormatRGB888        Format = 'R' | 'G'<<8 | '2'<<16 | '4'<<24
	FormatABGR8888      Format = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatXBGR8888      Format = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatARGB8888      Format = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatXRGB8888      Format = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatABGR2101010   Format = 'A' | 'B'<<8 | '3'<<16 | '0'<<24
	FormatXBGR2101010   Format = 'X' | 'B'<<8 | '3'<<16 | '0'<<24
	FormatARGB2101010   Format = 'A' | 'R'<<8 | '3'<<16 | '0'<<24
	FormatXRGB2101010   Format = 'X' | 'R'<<8 | '3'<<16 | '0'<<24
	FormatABGR16161616F Format = 'A' | 'B'<<8 | '4'<<16 | 'H'<<24
	FormatYUYV          Format = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	FormatUYVY          Format = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24
	FormatNV12          Format = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FormatNV21          Format = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	FormatP010          Format = 'P' | '0'<<8 | '1'<<16 | '0'<<24
	FormatP016          Format = 'P' | '0'<<8 | '1'<<16 | '6'<<24
	FormatYUV420        Format = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	FormatYVU420        Format = 'Y' | 'V'<<8 | '1'<<16 | '2'<<24
)

const (
	// ModInvalid is the DRM sentinel modifier. On a Description it requests
	// implicit/opaque tiling; on a buffer it is mandatory.
	ModInvalid Modifier = (1 << 56) - 1
	// ModLinear is the only modifier whose physical layout generic code can
	// compute itself.
	ModLinear Modifier = 0
)

// formatClass describes the physical block layout of a format, following
// Vulkan format compatibility classes: one entry of block byte size and
// block extent per memory plane.
type formatClass struct {
	planeCount  int
	blockSize   [3]int
	blockExtent [3][2]int
}

var formatClasses *swiss.Map[Format, *formatClass]
var formatNames *swiss.Map[Format, string]

func init() {
	class1B := &formatClass{
		planeCount:  1,
		blockSize:   [3]int{1, 0, 0},
		blockExtent: [3][2]int{{1, 1}, {1, 1}, {1, 1}},
	}
	class2B := &formatClass{
		planeCount:  1,
		blockSize:   [3]int{2, 0, 0},
		blockExtent: class1B.blockExtent,
	}
	class3B := &formatClass{
		planeCount:  1,
		blockSize:   [3]int{3, 0, 0},
		blockExtent: class1B.blockExtent,
	}
	class4B := &formatClass{
		planeCount:  1,
		blockSize:   [3]int{4, 0, 0},
		blockExtent: class1B.blockExtent,
	}
	class8B := &formatClass{
		planeCount:  1,
		blockSize:   [3]int{8, 0, 0},
		blockExtent: class1B.blockExtent,
	}
	class1Plane422x4B := &formatClass{
		planeCount:  1,
		blockSize:   [3]int{4, 0, 0},
		blockExtent: [3][2]int{{2, 1}, {1, 1}, {1, 1}},
	}
	class2Plane420x3B := &formatClass{
		planeCount:  2,
		blockSize:   [3]int{1, 2, 0},
		blockExtent: [3][2]int{{1, 1}, {2, 2}, {1, 1}},
	}
	class2Plane420x6B := &formatClass{
		planeCount:  2,
		blockSize:   [3]int{2, 4, 0},
		blockExtent: class2Plane420x3B.blockExtent,
	}
	class3Plane420x3B := &formatClass{
		planeCount:  3,
		blockSize:   [3]int{1, 1, 1},
		blockExtent: [3][2]int{{1, 1}, {2, 2}, {2, 2}},
	}

	classes := map[Format]*formatClass{
		FormatR8:            class1B,
		FormatBGR565:        class2B,
		FormatRGB565:        class2B,
		FormatGR88:          class2B,
		FormatR16:           class2B,
		FormatBGR888:        class3B,
		FormatRGB888:        class3B,
		FormatABGR8888:      class4B,
		FormatXBGR8888:      class4B,
		FormatARGB8888:      class4B,
		FormatXRGB8888:      class4B,
		FormatABGR2101010:   class4B,
		FormatXBGR2101010:   class4B,
		FormatARGB2101010:   class4B,
		FormatXRGB2101010:   class4B,
		FormatABGR16161616F: class8B,
		FormatYUYV:          class1Plane422x4B,
		FormatUYVY:          class1Plane422x4B,
		FormatNV12:          class2Plane420x3B,
		FormatNV21:          class2Plane420x3B,
		FormatP010:          class2Plane420x6B,
		FormatP016:          class2Plane420x6B,
		FormatYUV420:        class3Plane420x3B,
		FormatYVU420:        class3Plane420x3B,
	}
	formatClasses = swiss.NewMap[Format, *formatClass](uint32(len(classes)))
	for fmt, class := range classes {
		formatClasses.Put(fmt, class)
	}

	names := map[Format]string{
		FormatR8:            "R8",
		FormatBGR565:        "BGR565",
		FormatRGB565:        "RGB565",
		FormatGR88:          "GR88",
		FormatR16:           "R16",
		FormatBGR888:        "BGR888",
		FormatRGB888:        "RGB888",
		FormatABGR8888:      "ABGR8888",
		FormatXBGR8888:      "XBGR8888",
		FormatARGB8888:      "ARGB8888",
		FormatXRGB8888:      "XRGB8888",
		FormatABGR2101010:   "ABGR2101010",
		FormatXBGR2101010:   "XBGR2101010",
		FormatARGB2101010:   "ARGB2101010",
		FormatXRGB2101010:   "XRGB2101010",
		FormatABGR16161616F: "ABGR16161616F",
		FormatYUYV:          "YUYV",
		FormatUYVY:          "UYVY",
		FormatNV12:          "NV12",
		FormatNV21:          "NV21",
		FormatP010:          "P010",
		FormatP016:          "P016",
		FormatYUV420:        "YUV420",
		FormatYVU420:        "YVU420",
	}
	formatNames = swiss.NewMap[Format, string](uint32(len(names)))
	for fmt, name := range names {
		formatNames.Put(fmt, name)
	}
}

func lookupFormatClass(fmt Format) (*formatClass, error) {
	class, ok := formatClasses.Get(fmt)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidParam, "unknown format %s", fmt)
	}
	return class, nil
}

func formatName(fmt Format) (string, bool) {
	return formatNames.Get(fmt)
}

func fourcc(f Format) string {
	b := [4]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%x", uint32(f))
		}
	}
	return fmt.Sprintf("'%s'", b)
}

// FormatPlaneCount returns the logical plane count of a format.
func FormatPlaneCount(fmt Format) (int, error) {
	class, err := lookupFormatClass(fmt)
	if err != nil {
		return 0, err
	}
	return class.planeCount, nil
}

// packedImageLayout walks the format's block layout table in plane order and
// packs a linear layout: each plane offset is rounded up to the offset
// alignment, each stride to the stride alignment, and each plane size to the
// size alignment.
func packedImageLayout(fmt Format, width, height int, con *Constraint) (Layout, error) {
	class, err := lookupFormatClass(fmt)
	if err != nil {
		return Layout{}, err
	}

	layout := Layout{
		Modifier:   ModLinear,
		PlaneCount: class.planeCount,
	}

	offsetAlign, strideAlign, sizeAlign := con.alignments()
	offset := 0
	for plane := 0; plane < class.planeCount; plane++ {
		blockWidth := class.blockExtent[plane][0]
		blockHeight := class.blockExtent[plane][1]
		blockSize := class.blockSize[plane]

		planeWidth := divCeil(width, blockWidth)
		planeHeight := divCeil(height, blockHeight)

		offset = nextMultiple(offset, offsetAlign)

		stride := nextMultiple(planeWidth*blockSize, strideAlign)
		size := nextMultiple(stride*planeHeight, sizeAlign)

		layout.Offsets[plane] = offset
		layout.Strides[plane] = stride
		offset += size
	}

	layout.Size = offset

	return layout, nil
}
