package hbm

import (
	"fmt"
	"math"
	"unsafe"
)

// Format is a 32-bit DRM fourcc format. The zero value is FormatInvalid,
// which identifies a linear buffer rather than an image.
type Format uint32

func (f Format) isInvalid() bool {
	return f == FormatInvalid
}

// String returns the format name if it is known, or the quoted fourcc
// otherwise.
func (f Format) String() string {
	if name, ok := formatName(f); ok {
		return name
	}
	return fourcc(f)
}

// Modifier is a 64-bit DRM format modifier. The zero value is ModLinear.
type Modifier uint64

func (m Modifier) isInvalid() bool {
	return m == ModInvalid
}

func (m Modifier) isLinear() bool {
	return m == ModLinear
}

// String renders the modifier for logging.
func (m Modifier) String() string {
	switch m {
	case ModLinear:
		return "ModLinear"
	case ModInvalid:
		return "ModInvalid"
	}
	return fmt.Sprintf("%#x", uint64(m))
}

// Mapping is a CPU mapping of a bound buffer object. The zero value
// represents "not mapped".
type Mapping struct {
	// Data is the mapped memory. Its length is the mapping length.
	Data []byte
}

// Ptr returns the base address of the mapping, or nil when unmapped.
func (m Mapping) Ptr() unsafe.Pointer {
	if len(m.Data) == 0 {
		return nil
	}
	return unsafe.Pointer(&m.Data[0])
}

// Len returns the length of the mapping in bytes.
func (m Mapping) Len() int {
	return len(m.Data)
}

func (m Mapping) isValid() bool {
	return len(m.Data) > 0
}

type extentKind byte

const (
	extentBuffer extentKind = iota
	extentImage
)

// Extent is either a buffer size in bytes or an image width and height.
// Use BufferExtent or ImageExtent to construct one.
type Extent struct {
	kind   extentKind
	size   int
	width  int
	height int
}

// BufferExtent returns a buffer extent of size bytes.
func BufferExtent(size int) Extent {
	return Extent{kind: extentBuffer, size: size}
}

// ImageExtent returns a width x height image extent.
func ImageExtent(width, height int) Extent {
	return Extent{kind: extentImage, width: width, height: height}
}

// image dimensions follow the 32-bit DRM convention; the package targets
// 64-bit Linux, where the bound fits in int
const maxImageDim = math.MaxUint32

func maxExtent(isBuffer bool) Extent {
	if isBuffer {
		return BufferExtent(math.MaxInt)
	}
	return ImageExtent(maxImageDim, maxImageDim)
}

// IsBuffer reports whether this is a buffer extent.
func (e Extent) IsBuffer() bool {
	return e.kind == extentBuffer
}

// Size returns the byte size of a buffer extent. It panics when called on
// an image extent.
func (e Extent) Size() int {
	if e.kind != extentBuffer {
		panic("attempting to take the byte size of an image extent")
	}
	return e.size
}

// Width returns the width of an image extent. It panics when called on a
// buffer extent.
func (e Extent) Width() int {
	if e.kind != extentImage {
		panic("attempting to take the width of a buffer extent")
	}
	return e.width
}

// Height returns the height of an image extent. It panics when called on a
// buffer extent.
func (e Extent) Height() int {
	if e.kind != extentImage {
		panic("attempting to take the height of a buffer extent")
	}
	return e.height
}

func (e Extent) isEmpty() bool {
	switch e.kind {
	case extentBuffer:
		return e.size == 0
	case extentImage:
		return e.width == 0 || e.height == 0
	}
	panic(fmt.Sprintf("unknown extent kind %d", e.kind))
}

// intersect shrinks e element-wise to fit within other. Both extents must
// be of the same kind.
func (e *Extent) intersect(other Extent) {
	switch e.kind {
	case extentBuffer:
		if e.size > other.Size() {
			e.size = other.Size()
		}
	case extentImage:
		if e.width > other.Width() {
			e.width = other.Width()
		}
		if e.height > other.Height() {
			e.height = other.Height()
		}
	}
}

// String renders the extent for logging.
func (e Extent) String() string {
	if e.kind == extentBuffer {
		return fmt.Sprintf("buffer(%d)", e.size)
	}
	return fmt.Sprintf("image(%dx%d)", e.width, e.height)
}
