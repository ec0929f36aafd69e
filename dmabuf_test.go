package hbm

import (
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hbm/internal/osfd"
)

func memfdAlloc(size int) (*os.File, error) {
	return osfd.MemfdCreate("test-dmabuf", size)
}

func TestBackendBaseClassify(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)
	require.True(t, class.isBuffer())

	_, err = backend.Classify(Description{Format: FormatR8, Modifier: Modifier(42)}, Usage{Kind: UsageDisplay})
	require.ErrorIs(t, err, ErrNoSupport)

	_, err = backend.Classify(Description{Flags: BoProtected, Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.ErrorIs(t, err, ErrNoSupport)
}

func TestBackendBaseCreateWithLayout(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Format: FormatNV12, Modifier: ModLinear}, Usage{Kind: UsageDisplay})
	require.NoError(t, err)

	good := Layout{Size: 256, Modifier: ModLinear, PlaneCount: 2, Strides: [4]int{8, 8}, Offsets: [4]int{0, 64}}
	handle, err := backend.CreateWithLayout(class, ImageExtent(8, 8), good, NoFd)
	require.NoError(t, err)
	require.Equal(t, good, backend.Layout(handle))
	handle.release()

	tooSmall := good
	tooSmall.Size = 64
	_, err = backend.CreateWithLayout(class, ImageExtent(8, 8), tooSmall, NoFd)
	require.ErrorIs(t, err, ErrInvalidParam)

	wrongPlanes := good
	wrongPlanes.PlaneCount = 1
	_, err = backend.CreateWithLayout(class, ImageExtent(8, 8), wrongPlanes, NoFd)
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestBindDmaBufMemoryAlloc(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)

	handle, err := backend.CreateWithConstraint(class, BufferExtent(4096), nil)
	require.NoError(t, err)
	defer handle.release()

	require.NoError(t, BindDmaBufMemory(handle, MemoryMappable, nil, memfdAlloc))

	// a second bind without a descriptor is tolerated
	require.NoError(t, BindDmaBufMemory(handle, MemoryMappable, nil, memfdAlloc))

	size, err := osfd.SeekEnd(int(dmaBufResource(handle).dmabuf().Fd()))
	require.NoError(t, err)
	require.Equal(t, 4096, size)
}

func TestBindDmaBufMemoryRejectsRebind(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)

	handle, err := backend.CreateWithConstraint(class, BufferExtent(4096), nil)
	require.NoError(t, err)
	defer handle.release()

	require.NoError(t, BindDmaBufMemory(handle, MemoryMappable, nil, memfdAlloc))

	foreign, err := memfdAlloc(4096)
	require.NoError(t, err)
	err = BindDmaBufMemory(handle, MemoryMappable, foreign, memfdAlloc)
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestBindDmaBufMemoryRejectsUnmappable(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)

	handle, err := backend.CreateWithConstraint(class, BufferExtent(64), nil)
	require.NoError(t, err)
	defer handle.release()

	err = BindDmaBufMemory(handle, MemoryLocal, nil, memfdAlloc)
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestBindDmaBufMemoryImportSizeCheck(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)

	handle, err := backend.CreateWithConstraint(class, BufferExtent(4096), nil)
	require.NoError(t, err)
	defer handle.release()

	small, err := memfdAlloc(1024)
	require.NoError(t, err)
	err = BindDmaBufMemory(handle, MemoryMappable, small, memfdAlloc)
	require.ErrorIs(t, err, ErrInvalidParam)

	exact, err := memfdAlloc(4096)
	require.NoError(t, err)
	require.NoError(t, BindDmaBufMemory(handle, MemoryMappable, exact, memfdAlloc))
}

func TestBackendBaseMapRoundtrip(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)

	handle, err := backend.CreateWithConstraint(class, BufferExtent(4096), nil)
	require.NoError(t, err)
	defer handle.release()

	require.NoError(t, BindDmaBufMemory(handle, MemoryMappable, nil, memfdAlloc))

	mapping, err := backend.Map(handle)
	require.NoError(t, err)
	require.Equal(t, 4096, mapping.Len())

	copy(mapping.Data, []byte("hbm"))
	backend.Unmap(handle, mapping)

	again, err := backend.Map(handle)
	require.NoError(t, err)
	require.Equal(t, []byte("hbm"), again.Data[:3])
	backend.Unmap(handle, again)
}

func TestBackendBaseExport(t *testing.T) {
	var backend BackendBase

	class, err := backend.Classify(Description{Modifier: ModInvalid}, Usage{Kind: UsageGraphics})
	require.NoError(t, err)

	handle, err := backend.CreateWithConstraint(class, BufferExtent(1024), nil)
	require.NoError(t, err)
	defer handle.release()

	require.NoError(t, BindDmaBufMemory(handle, MemoryMappable, nil, memfdAlloc))

	// set-name only works on real dma-bufs and is ignored on memfds
	exported, err := backend.ExportDmaBuf(handle, "test-export")
	require.NoError(t, err)
	defer exported.Close()

	size, err := osfd.SeekEnd(int(exported.Fd()))
	require.NoError(t, err)
	require.Equal(t, 1024, size)
}

// importBackend binds imported descriptors but cannot allocate.
type importBackend struct {
	BackendBase
}

func (importBackend) BindMemory(handle *Handle, mt MemoryType, dmabuf *os.File) error {
	return BindDmaBufMemory(handle, mt, dmabuf, func(size int) (*os.File, error) {
		return nil, errors.Wrap(ErrNoSupport, "import-only backend cannot allocate")
	})
}

func TestDeviceWithGenericBackend(t *testing.T) {
	device := buildDevice(t, importBackend{})

	class, err := device.Classify(Description{Flags: BoMap | BoExternal, Modifier: ModInvalid}, []Usage{{Kind: UsageGraphics}})
	require.NoError(t, err)

	bo, err := NewBoWithConstraint(device, class, BufferExtent(4096), nil)
	require.NoError(t, err)
	defer bo.Free()

	require.Equal(t, []MemoryType{MemoryMappable}, bo.MemoryTypes())

	// the generic backend cannot allocate on its own
	err = bo.BindMemory(MemoryMappable, nil)
	require.ErrorIs(t, err, ErrNoSupport)

	// importing a sealed memfd stands in for a dma-buf
	imported, err := memfdAlloc(4096)
	require.NoError(t, err)
	require.NoError(t, bo.BindMemory(MemoryMappable, imported))

	mapping, err := bo.Map()
	require.NoError(t, err)
	require.Equal(t, 4096, mapping.Len())
	bo.Unmap()
}
