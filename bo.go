package hbm

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hbm/internal/osfd"
	"github.com/vkngwrapper/hbm/internal/utils"
	"golang.org/x/exp/slices"
)

// boState is the mutable lifecycle state of a Bo, guarded by the state
// mutex. mapCount and mapping are either both zero/empty or both set.
type boState struct {
	bound bool
	mt    MemoryType

	mapping  Mapping
	mapCount int
}

// Bo is a buffer object: a single allocated or imported piece of
// GPU/display-addressable memory plus its physical layout description.
//
// A Bo is created unbound, becomes bound exactly once, may be mapped and
// unmapped many times, and is released with Free.
type Bo struct {
	device *Device
	handle *Handle

	flags        Flags
	format       Format
	backendIndex int
	extent       Extent

	stateMutex utils.OptionalMutex
	state      boState
}

// mergeClassConstraint folds the class constraint into an optional caller
// constraint and intersects the modifier allowlist with the class's
// modifiers.
func mergeClassConstraint(con *Constraint, class *Class) (*Constraint, error) {
	if con == nil && class.constraint == nil {
		return nil, nil
	}

	var merged Constraint
	if con != nil {
		merged = *con
		merged.Modifiers = slices.Clone(con.Modifiers)
	}
	if class.constraint != nil {
		merged.merge(class.constraint)
	}

	if len(merged.Modifiers) != 0 {
		allowed := merged.Modifiers[:0]
		for _, m := range merged.Modifiers {
			if slices.Contains(class.modifiers, m) {
				allowed = append(allowed, m)
			}
		}
		if len(allowed) == 0 {
			return nil, errors.Wrap(ErrNoSupport, "constraint allows none of the class modifiers")
		}
		merged.Modifiers = allowed
	}

	return &merged, nil
}

func newBo(device *Device, handle *Handle, class *Class, extent Extent) *Bo {
	handle.backendIndex = class.backendIndex

	return &Bo{
		device:       device,
		handle:       handle,
		flags:        class.flags,
		format:       class.format,
		backendIndex: class.backendIndex,
		extent:       extent,
		stateMutex:   utils.OptionalMutex{UseMutex: device.useMutex},
	}
}

// NewBoWithConstraint allocates a Bo for the extent, with an optional
// caller constraint on the physical layout.
func NewBoWithConstraint(device *Device, class *Class, extent Extent, con *Constraint) (*Bo, error) {
	device.logger.Debug("Bo::NewBoWithConstraint")

	if !class.validate(extent) {
		return nil, errors.Wrapf(ErrInvalidParam, "extent %s is outside the class limits", extent)
	}

	merged, err := mergeClassConstraint(con, class)
	if err != nil {
		return nil, err
	}

	backend := device.backend(class.backendIndex)
	handle, err := backend.CreateWithConstraint(class, extent, merged)
	if err != nil {
		return nil, err
	}

	return newBo(device, handle, class, extent), nil
}

// NewBoWithLayout creates a Bo with an explicit physical layout, typically
// ahead of importing. dmabuf, when not NoFd, is borrowed to further
// restrict the supported memory types; ownership stays with the caller.
func NewBoWithLayout(device *Device, class *Class, extent Extent, layout Layout, dmabuf BorrowedFd) (*Bo, error) {
	device.logger.Debug("Bo::NewBoWithLayout")

	if !class.validate(extent) {
		return nil, errors.Wrapf(ErrInvalidParam, "extent %s is outside the class limits", extent)
	}

	backend := device.backend(class.backendIndex)
	handle, err := backend.CreateWithLayout(class, extent, layout, dmabuf)
	if err != nil {
		return nil, err
	}

	return newBo(device, handle, class, extent), nil
}

func (b *Bo) canExternal() bool {
	return b.flags&BoExternal != 0
}

func (b *Bo) canMap() bool {
	return b.flags&BoMap != 0
}

func (b *Bo) canCopy() bool {
	return b.flags&BoCopy != 0
}

func (b *Bo) isBuffer() bool {
	return b.format.isInvalid()
}

func (b *Bo) backend() Backend {
	return b.device.backend(b.backendIndex)
}

// Layout returns the physical layout. It does not touch the guarded
// lifecycle state and is safe to call concurrently with state transitions.
func (b *Bo) Layout() Layout {
	return b.backend().Layout(b.handle)
}

// MemoryTypes returns the supported memory types.
//
// When not importing, the supported memory types are pre-determined to some
// degree: two Bos with the same format, modifier, flags and usage have the
// same supported memory types. When importing, they are further restricted
// by the imported dma-buf.
func (b *Bo) MemoryTypes() []MemoryType {
	return b.backend().MemoryTypes(b.handle)
}

// BindMemory allocates or imports memory and binds it to the Bo. Binding
// happens exactly once; a Bo without memory bound cannot be exported,
// mapped, nor copied. Ownership of dmabuf transfers in.
func (b *Bo) BindMemory(mt MemoryType, dmabuf *os.File) error {
	b.device.logger.Debug("Bo::BindMemory")

	if dmabuf != nil && !b.canExternal() {
		_ = dmabuf.Close()
		return errors.Wrap(ErrInvalidParam, "binding a foreign dma-buf needs the BoExternal flag")
	}

	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if b.state.bound {
		if dmabuf != nil {
			_ = dmabuf.Close()
		}
		return errors.Wrap(ErrInvalidParam, "buffer object already has memory bound")
	}

	if err := b.backend().BindMemory(b.handle, mt, dmabuf); err != nil {
		return err
	}

	b.state.bound = true
	b.state.mt = mt

	return nil
}

// ExportDmaBuf exports the bound memory as a freshly owned dma-buf,
// optionally setting a name on the kernel dma-buf object.
//
// Two userspace dma-buf descriptors can refer to the same kernel object;
// the name attaches to the kernel object, not the descriptors.
func (b *Bo) ExportDmaBuf(name string) (*os.File, error) {
	b.device.logger.Debug("Bo::ExportDmaBuf")

	if !b.canExternal() {
		return nil, errors.Wrap(ErrInvalidParam, "exporting needs the BoExternal flag")
	}

	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if !b.state.bound {
		return nil, errors.Wrap(ErrInvalidParam, "cannot export an unbound buffer object")
	}

	return b.backend().ExportDmaBuf(b.handle, name)
}

// Map maps the Bo for CPU access. Recursive mapping is allowed and returns
// the same mapping.
func (b *Bo) Map() (Mapping, error) {
	b.device.logger.Debug("Bo::Map")

	if !b.canMap() {
		return Mapping{}, errors.Wrap(ErrInvalidParam, "mapping needs the BoMap flag")
	}

	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if !b.state.bound || b.state.mt&MemoryMappable == 0 {
		return Mapping{}, errors.Wrap(ErrInvalidParam, "buffer object is not bound to mappable memory")
	}

	if b.state.mapCount == 0 {
		mapping, err := b.backend().Map(b.handle)
		if err != nil {
			return Mapping{}, err
		}
		b.state.mapping = mapping
		b.state.mapCount = 1
	} else {
		b.state.mapCount++
	}

	return b.state.mapping, nil
}

// Unmap drops one map reference, unmapping the Bo when the last reference
// goes away. Unmapping an unmapped Bo is a no-op.
func (b *Bo) Unmap() {
	b.device.logger.Debug("Bo::Unmap")

	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	switch b.state.mapCount {
	case 0:
	case 1:
		b.backend().Unmap(b.handle, b.state.mapping)
		b.state.mapping = Mapping{}
		b.state.mapCount = 0
	default:
		b.state.mapCount--
	}
}

// Flush flushes the CPU cache for the Bo mapping. Coherent memory needs no
// maintenance and is left alone, as is an unmapped Bo.
func (b *Bo) Flush() {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if b.state.mapCount > 0 && b.state.mt&MemoryCoherent == 0 {
		b.backend().Flush(b.handle)
	}
}

// Invalidate invalidates the CPU cache for the Bo mapping. Coherent memory
// needs no maintenance and is left alone, as is an unmapped Bo.
func (b *Bo) Invalidate() {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if b.state.mapCount > 0 && b.state.mt&MemoryCoherent == 0 {
		b.backend().Invalidate(b.handle)
	}
}

// isBound must not be used when the mutex needs to stay held for
// synchronization; copies only read the flag.
func (b *Bo) isBound() bool {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()
	return b.state.bound
}

func (b *Bo) validateCopy(src *Bo) bool {
	return b.canCopy() && b.isBound() && src.canCopy() && src.isBound()
}

func (b *Bo) validateCopyBuffer(src *Bo, copy CopyBuffer) bool {
	if !b.validateCopy(src) || !b.isBuffer() || !src.isBuffer() {
		return false
	}

	srcSize := src.extent.Size()
	dstSize := b.extent.Size()

	return copy.Size > 0 &&
		copy.SrcOffset >= 0 && copy.SrcOffset <= srcSize && copy.Size <= srcSize-copy.SrcOffset &&
		copy.DstOffset >= 0 && copy.DstOffset <= dstSize && copy.Size <= dstSize-copy.DstOffset
}

func (b *Bo) validateCopyBufferImage(src *Bo, copy CopyBufferImage) bool {
	if !b.validateCopy(src) || b.isBuffer() == src.isBuffer() {
		return false
	}

	var size, width, height int
	var format Format
	if b.isBuffer() {
		size = b.extent.Size()
		width = src.extent.Width()
		height = src.extent.Height()
		format = src.format
	} else {
		size = src.extent.Size()
		width = b.extent.Width()
		height = b.extent.Height()
		format = b.format
	}

	class, err := lookupFormatClass(format)
	if err != nil {
		return false
	}
	if copy.Plane < 0 || copy.Plane >= class.planeCount {
		return false
	}

	bpp := class.blockSize[copy.Plane]
	width /= class.blockExtent[copy.Plane][0]
	height /= class.blockExtent[copy.Plane][1]

	if copy.Offset < 0 || copy.Stride < 0 ||
		copy.Offset%bpp != 0 || copy.Stride%bpp != 0 || copy.Stride/bpp < copy.Width {
		return false
	}

	return copy.Width > 0 && copy.Height > 0 &&
		copy.Offset <= size && copy.Stride <= (size-copy.Offset)/copy.Height &&
		copy.X >= 0 && copy.Y >= 0 &&
		copy.X <= width && copy.Y <= height &&
		copy.Width <= width-copy.X && copy.Height <= height-copy.Y
}

// waitCopy blocks on the output sync file when requested; the sync file is
// then consumed and never surfaced.
func (b *Bo) waitCopy(syncFile *os.File, wait bool) *os.File {
	if !wait {
		return syncFile
	}

	if syncFile != nil {
		_ = osfd.PollRead(int(syncFile.Fd()))
		_ = syncFile.Close()
	}
	return nil
}

// CopyBuffer copies from another buffer Bo into this one. Both sides must
// carry the BoCopy flag and be bound, and the copied range must lie within
// both buffers.
//
// syncFile is an optional sync file the copy waits for; its ownership
// transfers in. When wait is true the call blocks until the copy completes
// and never returns a sync file; otherwise it may return a newly owned sync
// file associated with the copy.
func (b *Bo) CopyBuffer(src *Bo, copy CopyBuffer, syncFile *os.File, wait bool) (*os.File, error) {
	b.device.logger.Debug("Bo::CopyBuffer")

	if !b.validateCopyBuffer(src, copy) {
		if syncFile != nil {
			_ = syncFile.Close()
		}
		return nil, errors.Wrap(ErrInvalidParam, "invalid buffer copy")
	}

	out, err := b.backend().CopyBuffer(b.handle, src.handle, copy, syncFile)
	if err != nil {
		return nil, err
	}

	return b.waitCopy(out, wait), nil
}

// CopyBufferImage copies between a buffer Bo and an image Bo; exactly one
// of the two operands must be a buffer. The rectangle is validated against
// the image's block-divided extent and the buffer addressing against the
// plane's block size.
//
// syncFile and wait behave as for CopyBuffer.
func (b *Bo) CopyBufferImage(src *Bo, copy CopyBufferImage, syncFile *os.File, wait bool) (*os.File, error) {
	b.device.logger.Debug("Bo::CopyBufferImage")

	if !b.validateCopyBufferImage(src, copy) {
		if syncFile != nil {
			_ = syncFile.Close()
		}
		return nil, errors.Wrap(ErrInvalidParam, "invalid buffer-image copy")
	}

	out, err := b.backend().CopyBufferImage(b.handle, src.handle, copy, syncFile)
	if err != nil {
		return nil, err
	}

	return b.waitCopy(out, wait), nil
}

// Free releases the Bo: it unmaps any outstanding mapping, releases
// backend bookkeeping, and drops the handle's memory. The Bo must not be
// used afterwards.
func (b *Bo) Free() {
	b.device.logger.Debug("Bo::Free")

	b.stateMutex.Lock()
	if b.state.mapCount > 0 {
		b.backend().Unmap(b.handle, b.state.mapping)
		b.state.mapping = Mapping{}
		b.state.mapCount = 0
	}
	b.stateMutex.Unlock()

	b.backend().Free(b.handle)
	b.handle.release()
}
