// Package symbols builds a symbol table from nm output and an optional
// addr2line-derived line map, and accumulates per-word execution
// coverage against it.
//
// Lookups are address-range lookups ("which symbol owns address X"),
// serviced by a small most-recently-used cache in front of a binary
// search over the address-sorted symbol array -- traces spend long
// runs inside the same handful of functions, so the cache absorbs
// almost all lookup traffic in practice.
package symbols

import (
	"sort"
	"sync"
)

// Stats reports cumulative lookup-cache behaviour, mirroring the
// counters the original etrace tool kept for -v diagnostics.
type Stats struct {
	CacheHits   uint64
	SearchHits  uint64
	Misses      uint64
	NumStored   int
}

// Store is a symbol table for one ELF image: an address-sorted symbol
// array plus a name index and a 4-entry MRU address cache in front of
// it. The zero value is not usable; construct with NewStore or
// ParseNM.
type Store struct {
	mu sync.Mutex

	syms   []*Sym
	byName map[string]*Sym

	unknown Sym

	min, max uint64

	// last holds the 4 most recently resolved symbols, most recent
	// first. Only a bsearch hit pushes an entry in; a cache hit
	// returns the symbol it found without reordering the cache, so a
	// hot symbol stays in the slot it reached until four later pushes
	// shift it out.
	last [4]*Sym

	cacheHits  uint64
	searchHits uint64
	misses     uint64
}

// NewStore returns an empty store with no symbols loaded.
func NewStore() *Store {
	return &Store{
		min:     ^uint64(0),
		byName:  make(map[string]*Sym),
		unknown: Sym{Size: ^uint64(0)},
	}
}

// Unknown returns the sentinel symbol used for addresses outside the
// range of every loaded symbol. It has an empty name (Namelen == 0)
// and a size of ^uint64(0) so any range check against it is always
// satisfied.
func (s *Store) Unknown() *Sym {
	return &s.unknown
}

// All returns every stored symbol, address-ascending. The caller must
// not mutate the returned slice.
func (s *Store) All() []*Sym {
	return s.syms
}

// Stats returns a snapshot of the lookup counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		CacheHits:  s.cacheHits,
		SearchHits: s.searchHits,
		Misses:     s.misses,
		NumStored:  len(s.syms),
	}
}

// LookupByName returns the symbol with the given demangled name, or
// nil if none is stored. When nm emitted more than one symbol under
// the same name (weak aliases are common), the lowest-addressed one
// wins -- this matches the original tool's tree, which is populated in
// address order and never replaces an existing entry.
func (s *Store) LookupByName(name string) *Sym {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

// LookupByAddr returns the symbol whose [Addr, Addr+Size) range
// contains addr, or nil if addr falls outside every known symbol.
func (s *Store) LookupByAddr(addr uint64) *Sym {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.syms) == 0 || addr < s.min || addr >= s.max {
		return nil
	}

	if sym := s.lastLookup(addr); sym != nil {
		s.cacheHits++
		return sym
	}

	idx := sort.Search(len(s.syms), func(i int) bool {
		return addr < s.syms[i].End()
	})
	if idx < len(s.syms) && addr >= s.syms[idx].Addr && addr < s.syms[idx].End() {
		sym := s.syms[idx]
		s.pushLast(sym)
		s.searchHits++
		return sym
	}

	s.misses++
	return nil
}

// lastLookup scans the MRU cache linearly and stops at the first empty
// slot. A hit is returned as-is, without being re-pushed to the front.
func (s *Store) lastLookup(addr uint64) *Sym {
	for _, sym := range s.last {
		if sym == nil {
			break
		}
		if addr >= sym.Addr && addr < sym.End() {
			return sym
		}
	}
	return nil
}

// pushLast shifts every cache entry down one slot and installs sym at
// the front. Only called after a bsearch hit -- cache hits never
// reorder the cache.
func (s *Store) pushLast(sym *Sym) {
	for i := len(s.last) - 1; i > 0; i-- {
		s.last[i] = s.last[i-1]
	}
	s.last[0] = sym
}
