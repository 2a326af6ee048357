package odb

import (
	"os"
	"path/filepath"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
)

func looseDir(objectsDir string, oid plumbing.Hash) string {
	h := oid.String()
	return filepath.Join(objectsDir, h[:2])
}

func loosePath(objectsDir string, oid plumbing.Hash) string {
	h := oid.String()
	return filepath.Join(objectsDir, h[:2], h[2:])
}

func readLoose(objectsDir string, oid plumbing.Hash) ([]byte, bool, error) {
	raw, err := os.ReadFile(loosePath(objectsDir, oid))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	inflated, err := objfmt.Inflate(raw)
	if err != nil {
		return nil, false, err
	}
	return inflated, true, nil
}

// writeLoose persists raw (the inflated "<kind> <len>\0"+body bytes) under
// oid, atomically: write to a temp file in the same shard directory, then
// rename over any existing file. A loose object that already exists is left
// untouched, matching content-addressed storage's write-once semantics.
func writeLoose(objectsDir string, oid plumbing.Hash, raw []byte) error {
	dir := looseDir(objectsDir, oid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dest := loosePath(objectsDir, oid)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	deflated, err := objfmt.Deflate(raw)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tmp-obj-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(deflated); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func existsLoose(objectsDir string, oid plumbing.Hash) bool {
	_, err := os.Stat(loosePath(objectsDir, oid))
	return err == nil
}

// walkLooseAbbrev scans the two-level loose shard layout for every object id
// beginning with prefix, used to resolve abbreviated revisions.
func walkLooseAbbrev(objectsDir, prefix string) ([]string, error) {
	if len(prefix) < 2 {
		entries, err := os.ReadDir(objectsDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		var found []string
		for _, shard := range entries {
			if !shard.IsDir() || len(shard.Name()) != 2 {
				continue
			}
			if !matchesPrefix(shard.Name(), prefix, 0) {
				continue
			}
			more, err := scanShard(objectsDir, shard.Name(), prefix)
			if err != nil {
				return nil, err
			}
			found = append(found, more...)
		}
		return found, nil
	}
	shard := prefix[:2]
	return scanShard(objectsDir, shard, prefix)
}

func scanShard(objectsDir, shard, prefix string) ([]string, error) {
	files, err := os.ReadDir(filepath.Join(objectsDir, shard))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var found []string
	for _, f := range files {
		full := shard + f.Name()
		if len(full) < len(prefix) || full[:len(prefix)] != prefix {
			continue
		}
		found = append(found, full)
	}
	return found, nil
}

func matchesPrefix(s, prefix string, offset int) bool {
	n := len(prefix) - offset
	if n <= 0 {
		return true
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n] == prefix[offset:offset+n]
}
