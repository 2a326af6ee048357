package rerere

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresMarkerLabels(t *testing.T) {
	a := []byte("before\n<<<<<<< HEAD\nmine\n=======\ntheirs\n>>>>>>> other-branch\nafter\n")
	b := []byte("before\n<<<<<<< ours\nmine\n=======\ntheirs\n>>>>>>> different-label\nafter\n")

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "conflicts differing only in marker labels should fingerprint the same")
}

func TestFingerprintDiffersOnContent(t *testing.T) {
	a := []byte("<<<<<<< HEAD\nmine\n=======\ntheirs\n>>>>>>> x\n")
	b := []byte("<<<<<<< HEAD\nmine-edited\n=======\ntheirs\n>>>>>>> x\n")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestStoreRecordAndLookupRoundTrip(t *testing.T) {
	s := New(t.TempDir(), true)
	fp := Fingerprint([]byte("<<<<<<< HEAD\na\n=======\nb\n>>>>>>> x\n"))

	_, ok := s.Lookup(fp)
	assert.False(t, ok)

	require.NoError(t, s.Record(fp, []byte("resolved")))

	got, ok := s.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "resolved", string(got))
}

func TestStoreDisabledNeverPersists(t *testing.T) {
	s := New(t.TempDir(), false)
	fp := "deadbeef"
	require.NoError(t, s.Record(fp, []byte("x")))
	_, ok := s.Lookup(fp)
	assert.False(t, ok)
}

func TestStillConflictedDetectsMarkers(t *testing.T) {
	assert.True(t, StillConflicted([]byte("<<<<<<< HEAD\nstuff\n")))
	assert.False(t, StillConflicted([]byte("resolved content")))
}
