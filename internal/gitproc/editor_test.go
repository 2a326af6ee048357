package gitproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessageStripsCommentsAndTrimsBlankLines(t *testing.T) {
	input := "\n\n# leading comment\nfirst line\nsecond line\n# trailing comment\n\n\n"
	msg, err := ReadMessage(strings.NewReader(input), '#')
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line\n", msg)
}

func TestReadMessageAllCommentsYieldsEmpty(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader("# only a comment\n"), '#')
	require.NoError(t, err)
	assert.Equal(t, "", msg)
}

func TestReadMessagePreservesBlankLinesBetweenParagraphs(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader("subject\n\nbody paragraph\n"), '#')
	require.NoError(t, err)
	assert.Equal(t, "subject\n\nbody paragraph\n", msg)
}
