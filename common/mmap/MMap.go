package mmap

import "os"
import "golang.org/x/sys/unix"


//============================================= MMap


// Map
//	Memory maps an entire file with the given protection level (RDONLY, RDWR, COPY, EXEC).
//	The returned byte slice is the live mapping and what callers operate on.
func Map(file *os.File, prot int) (MMap, error) {
	fileStat, statErr := file.Stat()
	if statErr != nil { return nil, statErr }

	return mmapHelper(int(fileStat.Size()), uintptr(prot), file.Fd())
}

// mmapHelper
//	Utility function for mmap.
//	If COPY is requested the mapping flips from MAP_SHARED to MAP_PRIVATE so the underlying file stays unchanged.
func mmapHelper(length int, inprot, fileDescriptor uintptr) ([]byte, error) {
	flags := unix.MAP_SHARED
	prot := unix.PROT_READ

	switch {
		case inprot & COPY != 0:
			prot |= unix.PROT_WRITE
			flags = unix.MAP_PRIVATE
		case inprot & RDWR != 0:
			prot |= unix.PROT_WRITE
	}

	if inprot & EXEC != 0 { prot |= unix.PROT_EXEC }

	mapped, mmapErr := unix.Mmap(int(fileDescriptor), 0, length, prot, flags)
	if mmapErr != nil { return nil, mmapErr }

	return mapped, nil
}

// Flush
//	Synchronously writes the mapped byte slice back to disk.
func (mapped MMap) Flush() error {
	return unix.Msync(mapped, unix.MS_SYNC)
}

// Unmap
//	Unmaps the byte slice from the memory mapped file.
func (mapped MMap) Unmap() error {
	return unix.Munmap(mapped)
}
