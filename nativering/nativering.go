// Package nativering ingests the external instrumentation ring: a
// memory-mapped file a cooperating language runtime writes function
// enter/exit records into, independent of ptrace (spec.md §6). The core
// only reads; the writer side is owned by whatever runtime adapter
// instruments the traced program.
package nativering

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	lru "github.com/hashicorp/golang-lru"

	"github.com/poecap/poe/events"
)

const (
	magic       = 0x504F4552
	version     = 1
	headerSize  = 4 + 4 + 4 + 4 + 8 + 8 + 32 // magic,version,capacity,_pad,write_pos,start_ns,reserved
	entrySize   = 8 + 8 + 8 + 4 + 1 + 1 + 2  // ts_ns,func_addr,call_site,tid,event_type,depth,_pad
)

// Ring is a read-only view over one mapped instrumentation ring file.
type Ring struct {
	data     []byte
	capacity uint32
	startNS  uint64

	symCache *lru.Cache // func_addr -> resolved symbol name, populated by the caller
}

// Open mmaps path read-only and validates the header. The file must already
// exist and be sized headerSize + capacity*entrySize by the writer.
func Open(path string) (*Ring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nativering: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("nativering: stat %s: %w", path, err)
	}
	if info.Size() < headerSize {
		return nil, fmt.Errorf("nativering: %s too small for header (%d bytes)", path, info.Size())
	}

	data, err := mmapReadOnly(f, int(info.Size()))
	if err != nil {
		return nil, fmt.Errorf("nativering: mmap %s: %w", path, err)
	}

	gotMagic := binary.LittleEndian.Uint32(data[0:4])
	gotVersion := binary.LittleEndian.Uint32(data[4:8])
	if gotMagic != magic {
		return nil, fmt.Errorf("nativering: %s bad magic 0x%x", path, gotMagic)
	}
	if gotVersion != version {
		return nil, fmt.Errorf("nativering: %s unsupported version %d", path, gotVersion)
	}

	// Layout: magic u32@0, version u32@4, capacity u32@8, _pad u32@12,
	// write_pos u64@16, start_ns u64@24, reserved[32]@32.
	cap_ := binary.LittleEndian.Uint32(data[8:12])
	startNS := binary.LittleEndian.Uint64(data[24:32])

	wantSize := headerSize + int(cap_)*entrySize
	if len(data) < wantSize {
		return nil, fmt.Errorf("nativering: %s truncated: want %d bytes, have %d", path, wantSize, len(data))
	}

	cache, err := lru.New(4096)
	if err != nil {
		return nil, fmt.Errorf("nativering: lru: %w", err)
	}

	return &Ring{data: data, capacity: cap_, startNS: startNS, symCache: cache}, nil
}

// Close unmaps the ring file.
func (r *Ring) Close() error { return munmap(r.data) }

// writePos reads the atomically-updated write cursor the external writer
// maintains; the core only ever reads it.
func (r *Ring) writePos() uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.data[12+4])))
}

// entry is one decoded function enter/exit record.
type entry struct {
	tsNS     uint64
	funcAddr uint64
	callSite uint64
	tid      uint32
	evType   uint8
	depth    uint8
}

func (r *Ring) readEntry(idx uint64) entry {
	off := headerSize + int(idx%uint64(r.capacity))*entrySize
	b := r.data[off : off+entrySize]
	return entry{
		tsNS:     binary.LittleEndian.Uint64(b[0:8]),
		funcAddr: binary.LittleEndian.Uint64(b[8:16]),
		callSite: binary.LittleEndian.Uint64(b[16:24]),
		tid:      binary.LittleEndian.Uint32(b[24:28]),
		evType:   b[28],
		depth:    b[29],
	}
}

// Drain returns every currently-live record as typed events, per spec.md
// §6's modular-indexing rule: entries [max(0, write_pos-capacity), write_pos)
// are live, addressed mod capacity. It is safe to call repeatedly; callers
// track their own last-seen write_pos (via DrainSince) to avoid re-emitting.
func (r *Ring) Drain() []events.NativeRecord {
	wp := r.writePos()
	return r.DrainSince(0, wp)
}

// DrainSince returns records in [from, to), clamped to the live window
// [max(0, to-capacity), to). Callers pass the previous call's returned `to`
// as the next call's `from` to get each record exactly once.
func (r *Ring) DrainSince(from, to uint64) []events.NativeRecord {
	liveStart := uint64(0)
	if to > uint64(r.capacity) {
		liveStart = to - uint64(r.capacity)
	}
	if from < liveStart {
		from = liveStart
	}
	if from >= to {
		return nil
	}

	out := make([]events.NativeRecord, 0, to-from)
	for i := from; i < to; i++ {
		e := r.readEntry(i)
		out = append(out, events.NativeRecord{
			TimestampNS: int64(e.tsNS),
			TaskID:      int(e.tid),
			FuncAddr:    e.funcAddr,
			CallSite:    e.callSite,
			EventType:   e.evType,
			Depth:       e.depth,
		})
	}
	return out
}

// WritePos exposes the current cursor so the coordinator's poll loop can
// track DrainSince's `from` argument across calls.
func (r *Ring) WritePos() uint64 { return r.writePos() }

// StartNS is the writer's recorded start time, for correlating the ring's
// relative timestamps against the run's wall-clock start.
func (r *Ring) StartNS() uint64 { return r.startNS }

// Capacity returns the ring's entry capacity as recorded in its header.
func (r *Ring) Capacity() uint32 { return r.capacity }

// CacheSymbol memoizes a resolved symbol name for func_addr, letting the
// analyzer avoid re-resolving the same address across many records.
func (r *Ring) CacheSymbol(funcAddr uint64, name string) { r.symCache.Add(funcAddr, name) }

// LookupSymbol returns a previously cached name for func_addr, if any.
func (r *Ring) LookupSymbol(funcAddr uint64) (string, bool) {
	v, ok := r.symCache.Get(funcAddr)
	if !ok {
		return "", false
	}
	return v.(string), true
}
