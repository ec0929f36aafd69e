// Package osfd wraps the OS primitives the buffer manager relies on:
// file-descriptor plumbing, memory mapping, sync-file polling, and the
// dma-buf, dma-heap and udmabuf ioctls.
package osfd

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Open opens a device node read-write with close-on-exec.
func Open(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// SeekEnd returns the size of the object behind the descriptor by seeking
// to its end.
func SeekEnd(fd int) (int, error) {
	offset, err := unix.Seek(fd, 0, unix.SEEK_END)
	if err != nil {
		return 0, errors.Wrap(err, "failed to seek to the end of the descriptor")
	}
	return int(offset), nil
}

// Mmap maps length bytes of the descriptor read-write and shared.
func Mmap(fd int, length int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %d bytes", length)
	}
	return data, nil
}

// Munmap releases a mapping returned by Mmap.
func Munmap(data []byte) error {
	return unix.Munmap(data)
}

// PollRead blocks without a timeout until the descriptor becomes readable.
func PollRead(fd int) error {
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "poll failed")
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return errors.Wrap(unix.EINVAL, "poll reported an error condition")
		}
		return nil
	}
}

// DupCloexec duplicates the descriptor with close-on-exec set.
func DupCloexec(fd int, name string) (*os.File, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to duplicate the descriptor")
	}
	return os.NewFile(uintptr(dup), name), nil
}

// MemfdCreate allocates a sealed memfd of the requested size.
func MemfdCreate(name string, size int) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, errors.Wrap(err, "memfd_create failed")
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "failed to size the memfd to %d bytes", size)
	}

	seals := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "failed to seal the memfd")
	}

	return os.NewFile(uintptr(fd), name), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	// unexpected stat failures are treated as "maybe", matching open-time
	// error reporting
	return err == nil || !os.IsNotExist(err)
}

const dmaHeapDir = "/dev/dma_heap"

// DmaHeapExists reports whether the kernel exposes dma-heaps.
func DmaHeapExists() bool {
	return exists(dmaHeapDir)
}

// DmaHeapOpen opens the named dma-heap.
func DmaHeapOpen(heapName string) (*os.File, error) {
	return Open(filepath.Join(dmaHeapDir, heapName))
}

const udmabufPath = "/dev/udmabuf"

// UdmabufExists reports whether the kernel exposes the udmabuf device.
func UdmabufExists() bool {
	return exists(udmabufPath)
}

// UdmabufOpen opens the udmabuf device.
func UdmabufOpen() (*os.File, error) {
	return Open(udmabufPath)
}
