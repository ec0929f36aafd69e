package osfd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIoctlEncoding(t *testing.T) {
	// well-known request numbers from the kernel headers
	require.Equal(t, uintptr(0x40086200), dmaBufIoctlSync)
	require.Equal(t, uintptr(0x40086201), dmaBufIoctlSetName)
	require.Equal(t, uintptr(0xc0184800), dmaHeapIoctlAlloc)
	require.Equal(t, uintptr(0x40187542), udmabufIoctlCreate)
}

func TestMemfdCreate(t *testing.T) {
	memfd, err := MemfdCreate("osfd-test", 8192)
	require.NoError(t, err)
	defer memfd.Close()

	size, err := SeekEnd(int(memfd.Fd()))
	require.NoError(t, err)
	require.Equal(t, 8192, size)
}

func TestMmapRoundtrip(t *testing.T) {
	memfd, err := MemfdCreate("osfd-test", 4096)
	require.NoError(t, err)
	defer memfd.Close()

	data, err := Mmap(int(memfd.Fd()), 4096)
	require.NoError(t, err)
	require.Len(t, data, 4096)

	data[0] = 0x42
	require.NoError(t, Munmap(data))

	again, err := Mmap(int(memfd.Fd()), 4096)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), again[0])
	require.NoError(t, Munmap(again))
}

func TestDupCloexec(t *testing.T) {
	memfd, err := MemfdCreate("osfd-test", 1024)
	require.NoError(t, err)

	dup, err := DupCloexec(int(memfd.Fd()), "osfd-test-dup")
	require.NoError(t, err)
	require.NoError(t, memfd.Close())

	// the duplicate outlives the original descriptor
	size, err := SeekEnd(int(dup.Fd()))
	require.NoError(t, err)
	require.Equal(t, 1024, size)
	require.NoError(t, dup.Close())
}

func TestPollRead(t *testing.T) {
	reader, writer, err := os.Pipe()
	require.NoError(t, err)
	defer reader.Close()

	_, err = writer.Write([]byte{0})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	require.NoError(t, PollRead(int(reader.Fd())))
}
