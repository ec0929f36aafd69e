// Package udmabuf provides a buffer backend on top of the Linux udmabuf
// device. It binds memory by wrapping sealed memfds in dma-bufs, which
// makes it a good fit for tests and for setups without a real allocator.
package udmabuf

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hbm"
	"github.com/vkngwrapper/hbm/internal/osfd"
)

// Backend allocates buffer memory through the udmabuf device.
type Backend struct {
	hbm.BackendBase

	dev *os.File
}

var _ hbm.Backend = (*Backend)(nil)

// BindMemory binds caller-imported memory, or a fresh dma-buf wrapping a
// sealed memfd, to the handle.
func (b *Backend) BindMemory(handle *hbm.Handle, mt hbm.MemoryType, dmabuf *os.File) error {
	return hbm.BindDmaBufMemory(handle, mt, dmabuf, func(size int) (*os.File, error) {
		memfd, err := osfd.MemfdCreate("udmabuf", size)
		if err != nil {
			return nil, errors.Mark(err, hbm.ErrDeviceIo)
		}
		defer memfd.Close()

		created, err := osfd.UdmabufCreate(b.dev, memfd, size)
		if err != nil {
			return nil, errors.Mark(err, hbm.ErrDeviceIo)
		}
		return created, nil
	})
}

// Close releases the udmabuf device descriptor. Buffer objects created
// through the backend must be freed first.
func (b *Backend) Close() error {
	return b.dev.Close()
}

// BackendBuilder assembles a udmabuf backend.
type BackendBuilder struct{}

// NewBackendBuilder creates a udmabuf backend builder.
func NewBackendBuilder() *BackendBuilder {
	return &BackendBuilder{}
}

// Build creates the backend.
func (b *BackendBuilder) Build() (*Backend, error) {
	if !osfd.UdmabufExists() {
		return nil, errors.Wrap(hbm.ErrNoSupport, "kernel does not expose the udmabuf device")
	}

	dev, err := osfd.UdmabufOpen()
	if err != nil {
		return nil, errors.Mark(err, hbm.ErrDeviceIo)
	}

	return &Backend{dev: dev}, nil
}
