package syscalls

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"github.com/poecap/poe/procfs"
)

// MaxPathLen bounds path reads from a traced task's address space; longer
// paths are truncated and the event records path_truncated.
const MaxPathLen = 4096

// ReadString reads a NUL-terminated string from pid's address space at
// addr, in 256-byte chunks via PTRACE_PEEKDATA, up to MaxPathLen bytes.
// It never fails hard: an unreadable page yields ("", false, true).
func ReadString(pid int, addr uint64) (s string, truncated bool, unreadable bool) {
	if addr == 0 {
		return "", false, false
	}

	const chunk = 256
	buf := make([]byte, 0, MaxPathLen)
	for len(buf) < MaxPathLen {
		page := make([]byte, chunk)
		n, err := syscall.PtracePeekData(pid, uintptr(addr)+uintptr(len(buf)), page)
		if err != nil || n == 0 {
			if len(buf) == 0 {
				return "", false, true
			}
			break
		}
		page = page[:n]
		if idx := indexZero(page); idx >= 0 {
			buf = append(buf, page[:idx]...)
			return string(buf), false, false
		}
		buf = append(buf, page...)
	}
	return string(buf[:min(len(buf), MaxPathLen)]), true, false
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ReadBytes reads up to length bytes from pid's address space at addr, in
// 256-byte chunks via PTRACE_PEEKDATA. It returns nil if even the first
// chunk is unreadable, and whatever it managed to read (shorter than
// length) if a later chunk fails — callers that need payload content (e.g.
// DNS decoding) treat a short read as ordinary truncation, not an error.
func ReadBytes(pid int, addr uint64, length uint32) []byte {
	if addr == 0 || length == 0 {
		return nil
	}

	const chunk = 256
	buf := make([]byte, 0, length)
	for uint32(len(buf)) < length {
		want := chunk
		if remaining := int(length) - len(buf); remaining < want {
			want = remaining
		}
		page := make([]byte, want)
		n, err := syscall.PtracePeekData(pid, uintptr(addr)+uintptr(len(buf)), page)
		if err != nil || n == 0 {
			if len(buf) == 0 {
				return nil
			}
			break
		}
		buf = append(buf, page[:n]...)
		if n < want {
			break
		}
	}
	return buf
}

// ResolveAtPath resolves a possibly-relative path against dirfd, following
// *at syscall semantics: AT_FDCWD (-100) resolves against the task's cwd,
// any other fd resolves through /proc/<pid>/fd/<n>.
func ResolveAtPath(pid int, dirfd int32, path string) string {
	if path == "" || path[0] == '/' {
		return path
	}
	const atFDCWD = -100
	if dirfd == atFDCWD {
		if cwd, err := procfs.Cwd(pid); err == nil {
			return cwd + "/" + path
		}
		return path
	}
	if base, err := procfs.Fd(pid, int(dirfd)); err == nil {
		return base + "/" + path
	}
	return path
}

// sockaddrFamily mirrors the kernel's sa_family_t layout: a two-byte
// little-endian family tag at offset 0.
func sockaddrFamily(buf []byte) uint16 {
	if len(buf) < 2 {
		return 0xffff
	}
	return binary.LittleEndian.Uint16(buf[:2])
}

const (
	afUnix  = 1
	afInet  = 2
	afInet6 = 10
)

// ReadSockaddr reads and decodes a sockaddr structure from pid's address
// space at addr of the given length, returning the textual address form
// spec.md §3 requires ("ip:port", a unix path, or "family:<n>").
func ReadSockaddr(pid int, addr uint64, length uint32) string {
	if addr == 0 || length == 0 {
		return ""
	}
	if length > 256 {
		length = 256
	}
	buf := make([]byte, length)
	n, err := syscall.PtracePeekData(pid, uintptr(addr), buf)
	if err != nil || n == 0 {
		return ""
	}
	buf = buf[:n]

	family := sockaddrFamily(buf)
	switch family {
	case afInet:
		if len(buf) < 8 {
			return "family:2"
		}
		port := binary.BigEndian.Uint16(buf[2:4])
		ip := net.IP(buf[4:8])
		return fmt.Sprintf("%s:%d", ip.String(), port)
	case afInet6:
		if len(buf) < 28 {
			return "family:10"
		}
		port := binary.BigEndian.Uint16(buf[2:4])
		ip := net.IP(buf[8:24])
		return fmt.Sprintf("[%s]:%d", ip.String(), port)
	case afUnix:
		path := buf[2:]
		if idx := indexZero(path); idx >= 0 {
			path = path[:idx]
		}
		if len(path) == 0 {
			return "@unix"
		}
		return string(path)
	default:
		return fmt.Sprintf("family:%d", family)
	}
}

// ReadIOVecLen sums the iov_len fields of an iovec array in pid's address
// space, used to record the attempted byte count of a readv/writev-family
// call even when only the return value tells us how much actually moved.
func ReadIOVecLen(pid int, iovAddr uint64, iovCnt int32) int64 {
	if iovAddr == 0 || iovCnt <= 0 {
		return 0
	}
	const iovecSize = 16 // {base uintptr; len size_t} on 64-bit
	var total int64
	buf := make([]byte, iovecSize)
	for i := int32(0); i < iovCnt; i++ {
		n, err := syscall.PtracePeekData(pid, uintptr(iovAddr)+uintptr(i)*iovecSize, buf)
		if err != nil || n < iovecSize {
			break
		}
		total += int64(binary.LittleEndian.Uint64(buf[8:16]))
	}
	return total
}
