// Package dmaheap provides a buffer backend on top of the Linux dma-heap
// allocator. It services plain linear buffers and images and binds memory
// by allocating dma-bufs from a single heap.
package dmaheap

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hbm"
	"github.com/vkngwrapper/hbm/internal/osfd"
)

// Backend allocates buffer memory from a dma-heap.
type Backend struct {
	hbm.BackendBase

	heap *os.File
}

var _ hbm.Backend = (*Backend)(nil)

// BindMemory binds caller-imported or freshly heap-allocated memory to the
// handle.
func (b *Backend) BindMemory(handle *hbm.Handle, mt hbm.MemoryType, dmabuf *os.File) error {
	return hbm.BindDmaBufMemory(handle, mt, dmabuf, func(size int) (*os.File, error) {
		allocated, err := osfd.DmaHeapAlloc(b.heap, size)
		if err != nil {
			return nil, errors.Mark(err, hbm.ErrDeviceIo)
		}
		return allocated, nil
	})
}

// Close releases the heap descriptor. Buffer objects created through the
// backend must be freed first.
func (b *Backend) Close() error {
	return b.heap.Close()
}

// BackendBuilder assembles a dma-heap backend.
type BackendBuilder struct {
	heapName string
	heapFile *os.File
}

// NewBackendBuilder creates a dma-heap backend builder.
func NewBackendBuilder() *BackendBuilder {
	return &BackendBuilder{}
}

// WithHeapName selects the dma-heap by name under /dev/dma_heap.
func (b *BackendBuilder) WithHeapName(heapName string) *BackendBuilder {
	b.heapName = heapName
	return b
}

// WithHeapFile selects an already-open dma-heap. Ownership of the
// descriptor transfers to the built backend.
func (b *BackendBuilder) WithHeapFile(heap *os.File) *BackendBuilder {
	b.heapFile = heap
	return b
}

// Build creates the backend. Exactly one of the heap name or the heap file
// must be set.
func (b *BackendBuilder) Build() (*Backend, error) {
	if (b.heapName == "") == (b.heapFile == nil) {
		return nil, errors.Wrap(hbm.ErrInvalidParam, "exactly one of the heap name and the heap file must be set")
	}

	if !osfd.DmaHeapExists() {
		return nil, errors.Wrap(hbm.ErrNoSupport, "kernel does not expose dma-heaps")
	}

	heap := b.heapFile
	if heap == nil {
		var err error
		heap, err = osfd.DmaHeapOpen(b.heapName)
		if err != nil {
			return nil, errors.Mark(err, hbm.ErrDeviceIo)
		}
	}

	return &Backend{heap: heap}, nil
}
