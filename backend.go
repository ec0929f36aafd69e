package hbm

import (
	"os"

	"github.com/vkngwrapper/core/v2/common"
)

// Flags describe the capabilities requested for a buffer object.
type Flags int32

var boFlagsMapping = common.NewFlagStringMapping[Flags]()

func (f Flags) Register(str string) {
	boFlagsMapping.Register(f, str)
}
func (f Flags) String() string {
	return boFlagsMapping.FlagsToString(f)
}

const (
	// BoExternal allows the buffer object to be exported as, or bound to, a
	// foreign dma-buf.
	BoExternal Flags = 1 << iota
	// BoMap allows CPU mapping.
	BoMap
	// BoCopy allows the buffer object to participate in copy operations.
	BoCopy
	// BoProtected requests protected memory.
	BoProtected
	// BoNoCompression forbids lossless compression modifiers.
	BoNoCompression
)

func init() {
	BoExternal.Register("BoExternal")
	BoMap.Register("BoMap")
	BoCopy.Register("BoCopy")
	BoProtected.Register("BoProtected")
	BoNoCompression.Register("BoNoCompression")
}

// MemoryType describes properties of the memory backing a buffer object.
type MemoryType int32

var memoryTypeMapping = common.NewFlagStringMapping[MemoryType]()

func (t MemoryType) Register(str string) {
	memoryTypeMapping.Register(t, str)
}
func (t MemoryType) String() string {
	return memoryTypeMapping.FlagsToString(t)
}

const (
	// MemoryLocal is device-local memory.
	MemoryLocal MemoryType = 1 << iota
	// MemoryMappable memory can be mapped for CPU access.
	MemoryMappable
	// MemoryCoherent memory needs no explicit cache maintenance.
	MemoryCoherent
	// MemoryCached memory is CPU-cached.
	MemoryCached
)

func init() {
	MemoryLocal.Register("MemoryLocal")
	MemoryMappable.Register("MemoryMappable")
	MemoryCoherent.Register("MemoryCoherent")
	MemoryCached.Register("MemoryCached")
}

// BorrowedFd is a file descriptor observed but not owned: the callee may
// query it (e.g. to restrict supported memory types) but must not close it
// or retain it past the call. Owned descriptors travel as *os.File.
type BorrowedFd int

// NoFd marks the absence of a borrowed descriptor.
const NoFd BorrowedFd = -1

// CopyBuffer describes a buffer-to-buffer copy.
type CopyBuffer struct {
	SrcOffset int
	DstOffset int
	Size      int
}

// CopyBufferImage describes a copy between a buffer and one memory plane of
// an image. Offset and Stride address the buffer side; Plane, X, Y, Width
// and Height address the image side in block units of that plane.
type CopyBufferImage struct {
	Offset int
	Stride int

	Plane  int
	X      int
	Y      int
	Width  int
	Height int
}

// handlePayload is the backend-opaque payload of a Handle. It is a closed
// set: the generic dma-buf resource today, native buffer and image objects
// when an API backend is compiled in.
type handlePayload interface {
	// release drops any memory owned by the payload itself.
	release()
}

// Handle is a backend-opaque reference to the backend-side object backing a
// Bo. A Handle is owned by exactly one Bo.
type Handle struct {
	payload      handlePayload
	backendIndex int
}

// NewDmaBufHandle wraps a dma-buf resource in a Handle. Backends that build
// on the generic dma-buf behavior use this from CreateWithConstraint and
// CreateWithLayout.
func NewDmaBufHandle(res *DmaBufResource) *Handle {
	return &Handle{payload: res}
}

func (h *Handle) release() {
	if h.payload != nil {
		h.payload.release()
		h.payload = nil
	}
}

// Backend is the capability interface every allocation source must satisfy.
// Classify must be pure with respect to buffer state; CreateWithConstraint
// and CreateWithLayout must return handles whose Layout already satisfies
// any constraint passed in, or fail; and every fallible operation returns
// one of ErrInvalidParam, ErrNoSupport or ErrDeviceIo, never partial
// success.
//
// BackendBase provides the generic dma-buf defaults; concrete backends
// embed it and override only where they differ.
type Backend interface {
	// MemoryPlaneCount returns the number of physical memory planes for a
	// format and modifier pair, which is at least the format's logical
	// plane count.
	MemoryPlaneCount(format Format, modifier Modifier) (int, error)
	// Classify validates and resolves a description against this backend.
	Classify(desc Description, usage Usage) (*Class, error)
	// CreateWithConstraint allocates a handle for the extent.
	CreateWithConstraint(class *Class, extent Extent, con *Constraint) (*Handle, error)
	// CreateWithLayout validates an externally supplied layout and prepares
	// a handle for import or later binding. dmabuf, when not NoFd, is
	// borrowed only to restrict the supported memory types.
	CreateWithLayout(class *Class, extent Extent, layout Layout, dmabuf BorrowedFd) (*Handle, error)
	// BindMemory allocates or imports the backing memory and attaches it to
	// the handle. Ownership of dmabuf transfers to the callee.
	BindMemory(handle *Handle, mt MemoryType, dmabuf *os.File) error
	// ExportDmaBuf returns a freshly owned dma-buf for the handle's memory,
	// optionally naming the kernel object.
	ExportDmaBuf(handle *Handle, name string) (*os.File, error)
	// Layout returns the physical layout of the handle.
	Layout(handle *Handle) Layout
	// MemoryTypes returns the memory types the handle supports, in
	// preference order.
	MemoryTypes(handle *Handle) []MemoryType
	// Map maps the handle's memory for CPU access.
	Map(handle *Handle) (Mapping, error)
	// Unmap releases a mapping returned by Map.
	Unmap(handle *Handle, mapping Mapping)
	// Flush makes CPU writes visible to the device.
	Flush(handle *Handle)
	// Invalidate makes device writes visible to the CPU.
	Invalidate(handle *Handle)
	// CopyBuffer copies between two buffer handles, optionally gated on an
	// input sync file whose ownership transfers in. A non-nil return is a
	// newly owned sync file signaling completion.
	CopyBuffer(dst, src *Handle, copy CopyBuffer, syncFile *os.File) (*os.File, error)
	// CopyBufferImage copies between a buffer handle and an image handle.
	CopyBufferImage(dst, src *Handle, copy CopyBufferImage, syncFile *os.File) (*os.File, error)
	// Free releases backend-side bookkeeping for the handle. Memory owned
	// by the payload itself is released when the handle is.
	Free(handle *Handle)
}
