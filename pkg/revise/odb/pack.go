package odb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"github.com/mystor/git-revise/modules/plumbing"
)

// Packs are read-only here; new objects are always written loose. This file
// only needs to locate and inflate an object the loose store is missing.

const (
	packObjCommit = 1
	packObjTree   = 2
	packObjBlob   = 3
	packObjTag    = 4
	packObjOfsDel = 6
	packObjRefDel = 7
)

type packIndex struct {
	hashSize int
	fanout   [256]uint32
	oids     [][]byte
	offsets  []uint64
}

func parsePackIndex(data []byte, hashSize int) (*packIndex, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], []byte{0xff, 0x74, 0x4f, 0x63}) {
		return nil, fmt.Errorf("odb: not a v2 pack index")
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != 2 {
		return nil, fmt.Errorf("odb: unsupported pack index version %d", version)
	}
	pos := 8
	var fanout [256]uint32
	for i := range fanout {
		fanout[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}
	count := int(fanout[255])
	oids := make([][]byte, count)
	for i := range oids {
		oids[i] = data[pos : pos+hashSize]
		pos += hashSize
	}
	pos += count * 4 // CRC32 table, unused
	offs32 := make([]uint32, count)
	for i := range offs32 {
		offs32[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}
	big := make([]uint64, 0)
	offsets := make([]uint64, count)
	for i, o := range offs32 {
		if o&0x80000000 != 0 {
			bigIdx := int(o &^ 0x80000000)
			for len(big) <= bigIdx {
				big = append(big, binary.BigEndian.Uint64(data[pos:pos+8]))
				pos += 8
			}
			offsets[i] = big[bigIdx]
			continue
		}
		offsets[i] = uint64(o)
	}
	return &packIndex{hashSize: hashSize, fanout: fanout, oids: oids, offsets: offsets}, nil
}

func (pi *packIndex) find(oid plumbing.Hash) (uint64, bool) {
	b := oid.Bytes()
	lo, hi := 0, len(pi.oids)
	if b[0] > 0 {
		lo = int(pi.fanout[b[0]-1])
	}
	hi = int(pi.fanout[b[0]])
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(pi.oids[mid], b)
		switch {
		case c == 0:
			return pi.offsets[mid], true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// pack is one open .pack/.idx pair.
type pack struct {
	idx      *packIndex
	packPath string
}

func openPack(idxPath, packPath string, hashSize int) (*pack, error) {
	data, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, err
	}
	idx, err := parsePackIndex(data, hashSize)
	if err != nil {
		return nil, err
	}
	return &pack{idx: idx, packPath: packPath}, nil
}

func discoverPacks(root string, hashSize int) []*pack {
	dir := filepath.Join(root, "objects", "pack")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var packs []*pack
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".idx" {
			continue
		}
		base := e.Name()[:len(e.Name())-len(".idx")]
		p, err := openPack(filepath.Join(dir, e.Name()), filepath.Join(dir, base+".pack"), hashSize)
		if err != nil {
			continue
		}
		packs = append(packs, p)
	}
	return packs
}

// readPackLenHeader reads a pack entry's header: the object kind from bits
// 4-6 of the first byte, and the size as a little-endian base-128 varint
// (low 4 bits from the first byte, 7 bits per continuation byte, high bit
// set on every byte but the last).
func readPackLenHeader(r *bufio.Reader) (kind int, size int64, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	kind = int(b>>4) & 0x7
	size = int64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return kind, size, nil
}

func readOfsOrRefBase(r *bufio.Reader, kind int, hashSize int) (ofsDelta int64, refDelta []byte, err error) {
	if kind == packObjOfsDel {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		v := int64(b & 0x7f)
		for b&0x80 != 0 {
			b, err = r.ReadByte()
			if err != nil {
				return 0, nil, err
			}
			v = ((v + 1) << 7) | int64(b&0x7f)
		}
		return v, nil, nil
	}
	buf := make([]byte, hashSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return 0, buf, nil
}

// readObjectAt inflates the object stored at byte offset off in the
// packfile, resolving OFS_DELTA/REF_DELTA chains against their bases.
func (p *pack) readObjectAt(off uint64, hashSize int) (kind int, data []byte, err error) {
	f, err := os.Open(p.packPath)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	return p.readObjectAtFile(f, off, hashSize, 0)
}

func (p *pack) readObjectAtFile(f *os.File, off uint64, hashSize int, depth int) (int, []byte, error) {
	if depth > 64 {
		return 0, nil, fmt.Errorf("odb: delta chain too deep")
	}
	if _, err := f.Seek(int64(off), io.SeekStart); err != nil {
		return 0, nil, err
	}
	br := bufio.NewReader(f)
	kind, _, err := readPackLenHeader(br)
	if err != nil {
		return 0, nil, err
	}
	switch kind {
	case packObjCommit, packObjTree, packObjBlob, packObjTag:
		zr, err := zlib.NewReader(br)
		if err != nil {
			return 0, nil, err
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		return kind, raw, err
	case packObjOfsDel, packObjRefDel:
		ofsDelta, refDelta, err := readOfsOrRefBase(br, kind, hashSize)
		if err != nil {
			return 0, nil, err
		}
		zr, err := zlib.NewReader(br)
		if err != nil {
			return 0, nil, err
		}
		delta, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return 0, nil, err
		}
		var baseOff uint64
		if kind == packObjOfsDel {
			baseOff = off - uint64(ofsDelta)
		} else {
			oid, err := plumbing.NewHashFromBytes(refDelta)
			if err != nil {
				return 0, nil, err
			}
			o, ok := p.idx.find(oid)
			if !ok {
				return 0, nil, fmt.Errorf("odb: ref-delta base %s not in pack", oid)
			}
			baseOff = o
		}
		baseKind, baseData, err := p.readObjectAtFile(f, baseOff, hashSize, depth+1)
		if err != nil {
			return 0, nil, err
		}
		result, err := applyDelta(baseData, delta)
		return baseKind, result, err
	default:
		return 0, nil, fmt.Errorf("odb: unsupported pack object kind %d", kind)
	}
}

// applyDelta implements the git packfile delta format: a base-size varint,
// a result-size varint, then a stream of copy (0x80 high bit) and insert
// (literal length byte) opcodes.
func applyDelta(base, delta []byte) ([]byte, error) {
	r := bytes.NewReader(delta)
	readVarint := func() (uint64, error) {
		var v uint64
		var shift uint
		for {
			b, err := r.ReadByte()
			if err != nil {
				return 0, err
			}
			v |= uint64(b&0x7f) << shift
			if b&0x80 == 0 {
				return v, nil
			}
			shift += 7
		}
	}
	baseSize, err := readVarint()
	if err != nil {
		return nil, err
	}
	if int(baseSize) != len(base) {
		return nil, fmt.Errorf("odb: delta base size mismatch")
	}
	resultSize, err := readVarint()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, resultSize)
	for {
		op, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if op&0x80 != 0 {
			var copyOffset, copySize uint32
			if op&0x01 != 0 {
				b, _ := r.ReadByte()
				copyOffset |= uint32(b)
			}
			if op&0x02 != 0 {
				b, _ := r.ReadByte()
				copyOffset |= uint32(b) << 8
			}
			if op&0x04 != 0 {
				b, _ := r.ReadByte()
				copyOffset |= uint32(b) << 16
			}
			if op&0x08 != 0 {
				b, _ := r.ReadByte()
				copyOffset |= uint32(b) << 24
			}
			if op&0x10 != 0 {
				b, _ := r.ReadByte()
				copySize |= uint32(b)
			}
			if op&0x20 != 0 {
				b, _ := r.ReadByte()
				copySize |= uint32(b) << 8
			}
			if op&0x40 != 0 {
				b, _ := r.ReadByte()
				copySize |= uint32(b) << 16
			}
			if copySize == 0 {
				copySize = 0x10000
			}
			if int(copyOffset)+int(copySize) > len(base) {
				return nil, fmt.Errorf("odb: delta copy out of range")
			}
			out = append(out, base[copyOffset:copyOffset+copySize]...)
		} else if op != 0 {
			n := int(op)
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
			out = append(out, buf...)
		} else {
			return nil, fmt.Errorf("odb: delta opcode 0 is reserved")
		}
	}
	return out, nil
}
