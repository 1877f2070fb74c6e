// Package symbols resolves raw instruction-pointer addresses captured by
// the tracer (G) and the stack sampler (I) into (module, symbol, offset)
// triples, by parsing ELF symbol tables and walking a pid's memory map.
package symbols

import (
	"crypto/sha256"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/poecap/poe/procfs"
)

var log = logrus.WithField("component", "symbols")

// Frame is a resolved stack frame.
type Frame struct {
	Addr   uint64
	Module string
	Symbol string
	Offset uint64
}

// symTable is a sorted-by-address symbol table for a single ELF module.
type symTable struct {
	path string
	hash string
	syms []elfSym
}

type elfSym struct {
	addr uint64
	size uint64
	name string
}

// Resolver caches parsed ELF symbol tables across resolutions, keyed by the
// content hash of the backing binary so that tasks sharing an executable
// (forked children, re-execs of the same image) reuse one parsed table.
type Resolver struct {
	mu      sync.Mutex
	byPath  map[string]string // module path -> content hash
	tables  *lru.Cache        // content hash -> *symTable
}

// New returns a Resolver whose table cache holds up to size parsed modules.
func New(size int) (*Resolver, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("symbols: new lru: %w", err)
	}
	return &Resolver{byPath: make(map[string]string), tables: c}, nil
}

// Resolve translates addr, observed in pid's address space, into a Frame.
// An address with no backing module returns a Frame with Module/Symbol left
// empty and Offset equal to addr. When the module's ELF is unreadable or no
// symbol lies at or below the address, Module is set, Symbol is empty and
// Offset is the address's offset within the module.
func (r *Resolver) Resolve(pid int, addr uint64) Frame {
	entries, err := procfs.ReadMaps(pid)
	if err != nil {
		log.WithError(err).WithField("pid", pid).Debug("read maps failed")
		return Frame{Addr: addr, Offset: addr}
	}

	mod, off, ok := procfs.ModuleFor(entries, addr)
	if !ok {
		return Frame{Addr: addr, Offset: addr}
	}

	tbl, err := r.tableFor(mod.Path)
	if err != nil {
		log.WithError(err).WithField("module", mod.Path).Debug("parse elf failed")
		return Frame{Addr: addr, Module: mod.Path, Offset: off}
	}

	sym, symOff := tbl.lookup(off)
	return Frame{Addr: addr, Module: mod.Path, Symbol: sym, Offset: symOff}
}

func (r *Resolver) tableFor(path string) (*symTable, error) {
	r.mu.Lock()
	hash, cached := r.byPath[path]
	r.mu.Unlock()

	if cached {
		if v, ok := r.tables.Get(hash); ok {
			return v.(*symTable), nil
		}
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byPath[path] = hash
	r.mu.Unlock()

	if v, ok := r.tables.Get(hash); ok {
		return v.(*symTable), nil
	}

	tbl, err := parseELFSymbols(path, hash)
	if err != nil {
		return nil, err
	}
	r.tables.Add(hash, tbl)
	return tbl, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseELFSymbols(path, hash string) (*symTable, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: open elf %s: %w", path, err)
	}
	defer f.Close()

	tbl := &symTable{path: path, hash: hash}

	collect := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Value == 0 || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}
			tbl.syms = append(tbl.syms, elfSym{addr: s.Value, size: s.Size, name: s.Name})
		}
	}

	if syms, err := f.Symbols(); err == nil {
		collect(syms)
	}
	if dynsyms, err := f.DynamicSymbols(); err == nil {
		collect(dynsyms)
	}

	sort.Slice(tbl.syms, func(i, j int) bool { return tbl.syms[i].addr < tbl.syms[j].addr })
	return tbl, nil
}

// lookup finds the nearest symbol at or below off via binary search over
// the sorted table. Symbol sizes are not checked, so an offset past the end
// of that symbol still resolves to it.
func (t *symTable) lookup(off uint64) (string, uint64) {
	if len(t.syms) == 0 {
		return "", off
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].addr > off })
	if i == 0 {
		return "", off
	}
	s := t.syms[i-1]
	return s.name, off - s.addr
}
