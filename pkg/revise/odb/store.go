// Package odb is the typed object cache sitting over the loose/pack object
// store: every object the rewrite engine touches is read once, decoded once,
// and kept around by identity so trees and commits built during a rewrite
// can share substructure instead of re-parsing or re-serializing it.
package odb

import (
	"path/filepath"
	"sync"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
)

// Store is a copy-on-write cache: Get hydrates and memoizes objects read
// from disk, while Insert stages newly built objects in memory without
// touching the filesystem until Flush. Two inserts of identical content
// collapse to the same OID and a single pending entry, so a rewrite that
// reconstructs an unchanged tree never stages a second copy of it.
type Store struct {
	objectsDir string
	algo       plumbing.HashAlgo
	packs      []*pack
	packsOnce  sync.Once

	mu      sync.Mutex
	cache   map[plumbing.Hash]objfmt.Object
	pending map[plumbing.Hash][]byte // oid -> raw "<kind> <len>\0"+body, not yet flushed
}

// NewStore opens the object store rooted at objectsDir (the repository's
// "objects" directory) using algo to compute and validate object ids.
func NewStore(objectsDir string, algo plumbing.HashAlgo) *Store {
	return &Store{
		objectsDir: objectsDir,
		algo:       algo,
		cache:      make(map[plumbing.Hash]objfmt.Object),
		pending:    make(map[plumbing.Hash][]byte),
	}
}

func (s *Store) loadedPacks() []*pack {
	s.packsOnce.Do(func() {
		// discoverPacks wants the repository root and rejoins "objects/pack"
		// itself; objectsDir is that root's "objects" subdirectory.
		s.packs = discoverPacks(filepath.Dir(s.objectsDir), s.algo.Size())
	})
	return s.packs
}

// Get hydrates and returns the object at oid, checking the decode cache,
// pending inserts, the loose store, and finally any discovered packs in turn.
func (s *Store) Get(oid plumbing.Hash) (objfmt.Object, error) {
	s.mu.Lock()
	if obj, ok := s.cache[oid]; ok {
		s.mu.Unlock()
		return obj, nil
	}
	raw, pending := s.pending[oid]
	s.mu.Unlock()

	if !pending {
		var ok bool
		var err error
		raw, ok, err = readLoose(s.objectsDir, oid)
		if err != nil {
			return nil, err
		}
		if !ok {
			raw, ok, err = s.readPacked(oid)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &ErrMissingObject{OID: oid.String()}
			}
		}
	}

	obj, err := objfmt.Parse(s.algo, raw)
	if err != nil {
		return nil, err
	}
	setHash(obj, oid)

	s.mu.Lock()
	s.cache[oid] = obj
	s.mu.Unlock()
	return obj, nil
}

func (s *Store) readPacked(oid plumbing.Hash) ([]byte, bool, error) {
	for _, p := range s.loadedPacks() {
		off, ok := p.idx.find(oid)
		if !ok {
			continue
		}
		kind, data, err := p.readObjectAt(off, s.algo.Size())
		if err != nil {
			return nil, false, err
		}
		var typeName string
		switch kind {
		case packObjCommit:
			typeName = objfmt.CommitObject.String()
		case packObjTree:
			typeName = objfmt.TreeObject.String()
		case packObjBlob:
			typeName = objfmt.BlobObject.String()
		case packObjTag:
			typeName = objfmt.TagObject.String()
		}
		raw := append([]byte(typeName+" "), []byte(itoa(len(data)))...)
		raw = append(raw, 0)
		raw = append(raw, data...)
		return raw, true, nil
	}
	return nil, false, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Exists reports whether oid is resolvable without fully decoding it.
func (s *Store) Exists(oid plumbing.Hash) bool {
	s.mu.Lock()
	if _, ok := s.cache[oid]; ok {
		s.mu.Unlock()
		return true
	}
	if _, ok := s.pending[oid]; ok {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	if existsLoose(s.objectsDir, oid) {
		return true
	}
	for _, p := range s.loadedPacks() {
		if _, ok := p.idx.find(oid); ok {
			return true
		}
	}
	return false
}

// Insert stages obj in memory and returns its OID. Objects are only ever
// appended to pending, never mutated in place: building a new tree around
// an existing blob leaves the original entry's cached object untouched.
func (s *Store) Insert(obj objfmt.Object) (plumbing.Hash, error) {
	oid, raw, err := objfmt.Hash(s.algo, obj)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	setHash(obj, oid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[oid]; !ok {
		if _, ok := s.pending[oid]; !ok {
			s.pending[oid] = raw
		}
	}
	s.cache[oid] = obj
	return oid, nil
}

// Flush persists every staged object to the loose store and clears the
// pending set. Order doesn't matter for correctness (loose objects don't
// reference each other by path, only by OID, and all referenced OIDs were
// already staged or already on disk before Insert could have produced
// them), but callers typically flush right before updating a ref so that a
// reader following the new ref never observes a dangling OID.
func (s *Store) Flush() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[plumbing.Hash][]byte)
	s.mu.Unlock()

	for oid, raw := range pending {
		if err := writeLoose(s.objectsDir, oid, raw); err != nil {
			s.mu.Lock()
			for k, v := range pending {
				s.pending[k] = v
			}
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// GetAbbrev resolves a hex prefix to a single OID, scanning loose shards and
// every discovered pack index for candidates. Ambiguous prefixes return
// ErrAmbiguousOid with every candidate found (no cap is applied);
// unmatched prefixes return ErrMissingObject.
func (s *Store) GetAbbrev(prefix string) (plumbing.Hash, error) {
	seen := make(map[string]struct{})
	var candidates []string

	add := func(hex string) {
		if _, ok := seen[hex]; ok {
			return
		}
		seen[hex] = struct{}{}
		candidates = append(candidates, hex)
	}

	s.mu.Lock()
	for oid := range s.cache {
		if hasPrefix(oid.String(), prefix) {
			add(oid.String())
		}
	}
	for oid := range s.pending {
		if hasPrefix(oid.String(), prefix) {
			add(oid.String())
		}
	}
	s.mu.Unlock()

	loose, err := walkLooseAbbrev(s.objectsDir, prefix)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	for _, hex := range loose {
		add(hex)
	}

	for _, p := range s.loadedPacks() {
		for _, b := range p.idx.oids {
			hex := hashHex(b)
			if hasPrefix(hex, prefix) {
				add(hex)
			}
		}
	}

	switch len(candidates) {
	case 0:
		return plumbing.ZeroHash, &ErrMissingObject{OID: prefix}
	case 1:
		return plumbing.NewHash(candidates[0]), nil
	default:
		return plumbing.ZeroHash, &ErrAmbiguousOid{Prefix: prefix, Candidates: candidates}
	}
}

// setHash records oid on the object kinds that carry their own id field.
func setHash(obj objfmt.Object, oid plumbing.Hash) {
	switch o := obj.(type) {
	case *objfmt.Commit:
		o.Hash = oid
	case *objfmt.Tree:
		o.Hash = oid
	case *objfmt.Tag:
		o.Hash = oid
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

const hexDigits = "0123456789abcdef"

func hashHex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}
