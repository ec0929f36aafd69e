package hbm

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hbm/internal/osfd"
)

// DmaBufResource is the generic handle payload: a physical layout plus a
// plain memory-mapped dma-buf descriptor, unset until memory is bound.
type DmaBufResource struct {
	layout Layout
	file   *os.File
}

// NewDmaBufResource wraps a layout in an unbound dma-buf resource.
func NewDmaBufResource(layout Layout) *DmaBufResource {
	return &DmaBufResource{layout: layout}
}

func (r *DmaBufResource) size() int {
	return r.layout.Size
}

func (r *DmaBufResource) dmabuf() *os.File {
	if r.file == nil {
		panic("attempting to use a dma-buf resource with no memory bound")
	}
	return r.file
}

func (r *DmaBufResource) release() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

// dmaBufResource extracts the generic payload from a handle. Handles from
// backends with native payloads never reach the generic code paths.
func dmaBufResource(handle *Handle) *DmaBufResource {
	res, ok := handle.payload.(*DmaBufResource)
	if !ok {
		panic("handle does not carry a dma-buf resource")
	}
	return res
}

// BackendBase provides the generic dma-buf implementation of Backend:
// plain memory-mapped, file-descriptor-backed buffers. It also serves as
// the default behavior for concrete backends, which embed it and override
// only the operations where they differ.
type BackendBase struct{}

var _ Backend = BackendBase{}

// MemoryPlaneCount reports no support; only backends that understand
// non-linear modifiers can answer this.
func (BackendBase) MemoryPlaneCount(format Format, modifier Modifier) (int, error) {
	return 0, errors.Wrap(ErrNoSupport, "backend does not report memory plane counts")
}

// Classify accepts buffers and linear images. Protected memory cannot be
// honored by plain dma-bufs.
func (BackendBase) Classify(desc Description, usage Usage) (*Class, error) {
	if !desc.isBuffer() && !desc.Modifier.isLinear() {
		return nil, errors.Wrapf(ErrNoSupport, "dma-buf backend cannot service modifier %#x", uint64(desc.Modifier))
	}

	if desc.Flags&BoProtected != 0 {
		return nil, errors.Wrap(ErrNoSupport, "dma-buf backend cannot service protected memory")
	}

	return NewClass(desc, usage, ClassInfo{
		MaxExtent: maxExtent(desc.isBuffer()),
		Modifiers: []Modifier{desc.Modifier},
	}), nil
}

// CreateWithConstraint packs a linear layout and returns a handle with an
// unset memory slot.
func (BackendBase) CreateWithConstraint(class *Class, extent Extent, con *Constraint) (*Handle, error) {
	layout, err := packedLayout(class, extent, con)
	if err != nil {
		return nil, err
	}

	return NewDmaBufHandle(NewDmaBufResource(layout)), nil
}

// CreateWithLayout packs a reference layout and checks the supplied layout
// is at least as large, with a matching modifier and plane count.
func (BackendBase) CreateWithLayout(class *Class, extent Extent, layout Layout, dmabuf BorrowedFd) (*Handle, error) {
	packed, err := packedLayout(class, extent, nil)
	if err != nil {
		return nil, err
	}

	if layout.Size < packed.Size {
		return nil, errors.Wrapf(ErrInvalidParam, "supplied layout size %d is below the packed minimum %d", layout.Size, packed.Size)
	}
	if layout.Modifier != packed.Modifier || layout.PlaneCount != packed.PlaneCount {
		return nil, errors.Wrap(ErrInvalidParam, "supplied layout does not match the packed reference layout")
	}

	return NewDmaBufHandle(NewDmaBufResource(layout)), nil
}

// BindMemory reports no support; pure dma-buf backends bind through
// BindDmaBufMemory with a heap-specific allocation callback.
func (BackendBase) BindMemory(handle *Handle, mt MemoryType, dmabuf *os.File) error {
	if dmabuf != nil {
		_ = dmabuf.Close()
	}
	return errors.Wrap(ErrNoSupport, "backend cannot bind memory")
}

// BindDmaBufMemory implements memory binding for dma-buf-backed handles:
// it wraps the caller-supplied descriptor after checking its size, or
// allocates one through the injected callback. Ownership of dmabuf
// transfers in.
func BindDmaBufMemory(handle *Handle, mt MemoryType, dmabuf *os.File, alloc func(size int) (*os.File, error)) error {
	res := dmaBufResource(handle)

	if mt&^MemoryMappable != 0 {
		if dmabuf != nil {
			_ = dmabuf.Close()
		}
		return errors.Wrapf(ErrInvalidParam, "dma-buf resources only support mappable memory, not %s", mt)
	}

	if res.file != nil {
		if dmabuf != nil {
			_ = dmabuf.Close()
			return errors.Wrap(ErrInvalidParam, "resource already has a descriptor bound")
		}
		return nil
	}

	if dmabuf != nil {
		size, err := osfd.SeekEnd(int(dmabuf.Fd()))
		if err != nil {
			_ = dmabuf.Close()
			return errors.Mark(err, ErrDeviceIo)
		}
		if res.size() > size {
			_ = dmabuf.Close()
			return errors.Wrapf(ErrInvalidParam, "imported dma-buf holds %d bytes but the layout needs %d", size, res.size())
		}
	} else {
		var err error
		dmabuf, err = alloc(res.size())
		if err != nil {
			return err
		}
	}

	res.file = dmabuf

	return nil
}

// ExportDmaBuf duplicates the bound descriptor, optionally naming the
// kernel dma-buf object first. Naming failures are ignored.
func (BackendBase) ExportDmaBuf(handle *Handle, name string) (*os.File, error) {
	dmabuf := dmaBufResource(handle).dmabuf()

	if name != "" {
		_ = osfd.DmaBufSetName(int(dmabuf.Fd()), name)
	}

	dup, err := osfd.DupCloexec(int(dmabuf.Fd()), name)
	if err != nil {
		return nil, errors.Mark(err, ErrDeviceIo)
	}

	return dup, nil
}

// Layout returns the resource's physical layout.
func (BackendBase) Layout(handle *Handle) Layout {
	return dmaBufResource(handle).layout
}

// MemoryTypes reports the single memory type plain dma-bufs support.
func (BackendBase) MemoryTypes(handle *Handle) []MemoryType {
	return []MemoryType{MemoryMappable}
}

// Map memory-maps the whole bound descriptor read-write.
func (BackendBase) Map(handle *Handle) (Mapping, error) {
	dmabuf := dmaBufResource(handle).dmabuf()

	length, err := osfd.SeekEnd(int(dmabuf.Fd()))
	if err != nil {
		return Mapping{}, errors.Mark(err, ErrDeviceIo)
	}

	data, err := osfd.Mmap(int(dmabuf.Fd()), length)
	if err != nil {
		return Mapping{}, errors.Mark(err, ErrDeviceIo)
	}

	return Mapping{Data: data}, nil
}

// Unmap releases a mapping returned by Map.
func (BackendBase) Unmap(handle *Handle, mapping Mapping) {
	_ = osfd.Munmap(mapping.Data)
}

// The dma-buf sync ioctl is meant to bracket CPU accesses. We lean on the
// bracket halves for cache maintenance instead: the end half flushes CPU
// writes toward the device, the start half waits for implicit fences and
// pulls device writes into the CPU domain. Most setups never need either.

// Flush makes CPU writes visible to the device.
func (BackendBase) Flush(handle *Handle) {
	dmabuf := dmaBufResource(handle).dmabuf()
	_ = osfd.DmaBufSyncEnd(int(dmabuf.Fd()))
}

// Invalidate makes device writes visible to the CPU.
func (BackendBase) Invalidate(handle *Handle) {
	dmabuf := dmaBufResource(handle).dmabuf()
	_ = osfd.DmaBufSyncStart(int(dmabuf.Fd()))
}

// CopyBuffer reports no support; only API backends implement device
// copies.
func (BackendBase) CopyBuffer(dst, src *Handle, copy CopyBuffer, syncFile *os.File) (*os.File, error) {
	if syncFile != nil {
		_ = syncFile.Close()
	}
	return nil, errors.Wrap(ErrNoSupport, "backend cannot copy buffers")
}

// CopyBufferImage reports no support; only API backends implement device
// copies.
func (BackendBase) CopyBufferImage(dst, src *Handle, copy CopyBufferImage, syncFile *os.File) (*os.File, error) {
	if syncFile != nil {
		_ = syncFile.Close()
	}
	return nil, errors.Wrap(ErrNoSupport, "backend cannot copy buffers")
}

// Free releases backend-side bookkeeping. The dma-buf descriptor itself is
// owned by the payload and released with the handle.
func (BackendBase) Free(handle *Handle) {}
