package osfd

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// ioctl request encoding, from asm-generic/ioctl.h.
const (
	iocWrite = 1
	iocRead  = 2

	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

// from linux/dma-buf.h
const (
	dmaBufSyncRead  = 1 << 0
	dmaBufSyncWrite = 1 << 1
	dmaBufSyncStart = 0
	dmaBufSyncEnd   = 1 << 2

	dmaBufBase = 'b'
)

type dmaBufSync struct {
	flags uint64
}

var (
	dmaBufIoctlSync    = iow(dmaBufBase, 0, unsafe.Sizeof(dmaBufSync{}))
	dmaBufIoctlSetName = iow(dmaBufBase, 1, unsafe.Sizeof(uint64(0)))
)

// DmaBufSyncStart brackets the start of a CPU access: it waits for implicit
// fences and makes device writes visible to the CPU.
func DmaBufSyncStart(fd int) error {
	arg := dmaBufSync{flags: dmaBufSyncRead | dmaBufSyncWrite | dmaBufSyncStart}
	return errors.Wrap(ioctl(fd, dmaBufIoctlSync, unsafe.Pointer(&arg)), "dma-buf sync start failed")
}

// DmaBufSyncEnd brackets the end of a CPU access: it makes CPU writes
// visible to the device.
func DmaBufSyncEnd(fd int) error {
	arg := dmaBufSync{flags: dmaBufSyncRead | dmaBufSyncWrite | dmaBufSyncEnd}
	return errors.Wrap(ioctl(fd, dmaBufIoctlSync, unsafe.Pointer(&arg)), "dma-buf sync end failed")
}

// DmaBufSetName names the kernel dma-buf object behind the descriptor. The
// name is attached to the kernel object, not the userspace descriptor.
func DmaBufSetName(fd int, name string) error {
	cname, err := unix.BytePtrFromString(name)
	if err != nil {
		return errors.Wrap(err, "dma-buf name is not a valid C string")
	}
	return errors.Wrap(ioctl(fd, dmaBufIoctlSetName, unsafe.Pointer(cname)), "dma-buf set-name failed")
}

// from linux/dma-heap.h
type dmaHeapAllocationData struct {
	len       uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

var dmaHeapIoctlAlloc = iowr('H', 0x0, unsafe.Sizeof(dmaHeapAllocationData{}))

// DmaHeapAlloc allocates a dma-buf of the requested size from an open
// dma-heap.
func DmaHeapAlloc(heap *os.File, size int) (*os.File, error) {
	arg := dmaHeapAllocationData{
		len:     uint64(size),
		fdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}

	if err := ioctl(int(heap.Fd()), dmaHeapIoctlAlloc, unsafe.Pointer(&arg)); err != nil {
		return nil, errors.Wrapf(err, "dma-heap allocation of %d bytes failed", size)
	}

	return os.NewFile(uintptr(arg.fd), "dma-heap"), nil
}

// from linux/udmabuf.h
const udmabufFlagsCloexec = 1

type udmabufCreate struct {
	memfd  uint32
	flags  uint32
	offset uint64
	size   uint64
}

var udmabufIoctlCreate = iow('u', 0x42, unsafe.Sizeof(udmabufCreate{}))

// UdmabufCreate wraps a whole memfd in a dma-buf. Ownership of the memfd
// stays with the caller.
func UdmabufCreate(dev *os.File, memfd *os.File, size int) (*os.File, error) {
	arg := udmabufCreate{
		memfd: uint32(memfd.Fd()),
		flags: udmabufFlagsCloexec,
		size:  uint64(size),
	}

	for {
		fd, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.Fd(), udmabufIoctlCreate, uintptr(unsafe.Pointer(&arg)))
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		if errno != 0 {
			return nil, errors.Wrapf(errno, "udmabuf creation of %d bytes failed", size)
		}
		return os.NewFile(fd, "udmabuf"), nil
	}
}
