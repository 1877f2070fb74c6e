// Package sampler drives a CPU-clock perf_event_open profiler against the
// traced task, decoding PERF_RECORD_SAMPLE records straight out of the
// kernel's mmap ring buffer (spec.md §4.I). No BPF program is attached:
// the kernel itself writes IP + callchain + tid + time into the ring on
// every overflow, which is all the stack sampler needs.
package sampler

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/poecap/poe/events"
)

var log = logrus.WithField("component", "sampler")

// dataHeadOffset is the byte offset of perf_event_mmap_page.data_head,
// fixed by the kernel ABI (include/uapi/linux/perf_event.h): the page's
// control fields are padded to exactly 1024 bytes before data_head/
// data_tail/data_offset/data_size.
const dataHeadOffset = 1024
const dataTailOffset = 1032

const (
	sampleIP        = unix.PERF_SAMPLE_IP
	sampleTID       = unix.PERF_SAMPLE_TID
	sampleTime      = unix.PERF_SAMPLE_TIME
	sampleCallchain = unix.PERF_SAMPLE_CALLCHAIN
)

const sampleTypeMask = sampleIP | sampleTID | sampleTime | sampleCallchain

const maxCallchainDepth = 127

// Sampler owns one perf_event_open fd and its mmap'd ring buffer, scoped to
// a single traced task (pid). The coordinator opens one Sampler for the
// root task when the tracer reports it started and keeps it until the run
// ends; it is not re-opened after exec.
type Sampler struct {
	fd       int
	ring     []byte
	pageSize int
	dataOff  uint64
	dataSize uint64
	taskID   int
}

// Available performs a cheap open/close probe without mmapping anything,
// so the coordinator can decide whether to run degraded (spec.md §4.I:
// "non-fatal degradation" when perf_event_open is unavailable, e.g. under
// a restrictive seccomp profile or perf_event_paranoid).
func Available() bool {
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_SOFTWARE,
		Config: unix.PERF_COUNT_SW_CPU_CLOCK,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: 999,
		Bits:   unix.PerfBitFreq,
	}
	fd, err := unix.PerfEventOpen(attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		log.WithError(err).Debug("perf_event_open probe failed, sampler unavailable")
		return false
	}
	unix.Close(fd)
	return true
}

// Open starts CPU-clock sampling of pid at the given frequency (Hz).
// ringPages is the number of data pages (must be a power of two); the
// mmap'd region is 1 control page plus ringPages data pages.
func Open(pid, freqHz, ringPages int) (*Sampler, error) {
	attr := &unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_SOFTWARE,
		Config:      unix.PERF_COUNT_SW_CPU_CLOCK,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample:      uint64(freqHz),
		Bits:        unix.PerfBitFreq | unix.PerfBitMmap,
		Sample_type: sampleTypeMask,
	}

	fd, err := unix.PerfEventOpen(attr, pid, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sampler: perf_event_open pid=%d: %w", pid, err)
	}

	pageSize := unix.Getpagesize()
	ringLen := pageSize * (1 + ringPages)
	data, err := unix.Mmap(fd, 0, ringLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sampler: mmap pid=%d: %w", pid, err)
	}

	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("sampler: enable pid=%d: %w", pid, err)
	}

	return &Sampler{
		fd: fd, ring: data, pageSize: pageSize,
		dataOff: uint64(pageSize), dataSize: uint64(pageSize * ringPages),
		taskID: pid,
	}, nil
}

// Close disables and tears down the perf context.
func (s *Sampler) Close() error {
	_ = unix.IoctlSetInt(s.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	err := unix.Munmap(s.ring)
	if cerr := unix.Close(s.fd); err == nil {
		err = cerr
	}
	return err
}

func (s *Sampler) loadHead() uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.ring[dataHeadOffset])))
}

func (s *Sampler) storeTail(v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.ring[dataTailOffset])), v)
}

// Drain reads every record currently available in the ring — lossless as
// long as the caller keeps up with the sampling rate (spec.md §4.I) — and
// invokes onSample for each decoded PERF_RECORD_SAMPLE. Non-sample record
// types (PERF_RECORD_LOST, mmap/comm bookkeeping) are skipped.
func (s *Sampler) Drain(onSample func(events.Stack)) {
	head := s.loadHead()
	tail := s.readTail()

	for tail < head {
		rec, consumed, ok := s.readRecord(tail)
		tail += consumed
		if !ok {
			continue
		}
		if rec != nil {
			onSample(*rec)
		}
	}
	s.storeTail(tail)
}

func (s *Sampler) readTail() uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.ring[dataTailOffset])))
}

// readRecord decodes one ring entry starting at the absolute byte offset
// pos (which wraps modulo dataSize within the data region). It returns the
// number of bytes consumed (the record's declared size) regardless of
// whether it understood the record, so the caller always advances.
func (s *Sampler) readRecord(pos uint64) (*events.Stack, uint64, bool) {
	hdr := s.read(pos, 8)
	if len(hdr) < 8 {
		return nil, 8, false
	}
	recType := binary.LittleEndian.Uint32(hdr[0:4])
	size := uint64(binary.LittleEndian.Uint16(hdr[6:8]))
	if size < 8 {
		size = 8
	}

	if recType != unix.PERF_RECORD_SAMPLE {
		return nil, size, false
	}

	body := s.read(pos+8, size-8)
	stk, ok := decodeSample(body, s.taskID)
	return stk, size, ok
}

// read copies n bytes starting at the ring-relative absolute offset pos,
// handling wraparound at the data region boundary.
func (s *Sampler) read(pos, n uint64) []byte {
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := uint64(0); i < n; i++ {
		idx := s.dataOff + (pos+i)%s.dataSize
		out[i] = s.ring[idx]
	}
	return out
}

func decodeSample(body []byte, taskID int) (*events.Stack, bool) {
	off := 0
	read64 := func() (uint64, bool) {
		if off+8 > len(body) {
			return 0, false
		}
		v := binary.LittleEndian.Uint64(body[off : off+8])
		off += 8
		return v, true
	}
	read32pair := func() (uint32, uint32, bool) {
		if off+8 > len(body) {
			return 0, 0, false
		}
		a := binary.LittleEndian.Uint32(body[off : off+4])
		b := binary.LittleEndian.Uint32(body[off+4 : off+8])
		off += 8
		return a, b, true
	}

	var ip, timeNS uint64
	var ok bool
	if sampleTypeMask&sampleIP != 0 {
		if ip, ok = read64(); !ok {
			return nil, false
		}
	}
	var tid uint32
	if sampleTypeMask&sampleTID != 0 {
		if _, tid, ok = read32pair(); !ok {
			return nil, false
		}
	}
	if sampleTypeMask&sampleTime != 0 {
		if timeNS, ok = read64(); !ok {
			return nil, false
		}
	}

	frames := []uint64{ip}
	if sampleTypeMask&sampleCallchain != 0 {
		nr, ok2 := read64()
		if !ok2 {
			return &events.Stack{TimestampNS: int64(timeNS), TaskID: int(tid), Frames: frames, Weight: 1}, true
		}
		if nr > maxCallchainDepth {
			nr = maxCallchainDepth
		}
		for i := uint64(0); i < nr; i++ {
			v, ok3 := read64()
			if !ok3 {
				break
			}
			frames = append(frames, v)
		}
	}

	task := int(tid)
	if task == 0 {
		task = taskID
	}
	return &events.Stack{TimestampNS: int64(timeNS), TaskID: task, Frames: frames, Weight: 1}, true
}
