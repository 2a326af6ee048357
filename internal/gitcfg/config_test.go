package gitcfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSectionAndSubsection(t *testing.T) {
	cfg := New()
	raw := `
[user]
	name = A U Thor
	email = author@example.com
[branch "main"]
	remote = origin
`
	require.NoError(t, cfg.Parse(strings.NewReader(raw)))

	name, ok := cfg.String("user.name")
	require.True(t, ok)
	assert.Equal(t, "A U Thor", name)

	remote, ok := cfg.String("branch.main.remote")
	require.True(t, ok)
	assert.Equal(t, "origin", remote)
}

func TestParseBareKeyDefaultsTrue(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Parse(strings.NewReader("[commit]\n\tgpgsign\n")))
	assert.True(t, cfg.Bool("commit.gpgsign", false))
}

func TestParseLaterCallOverridesScalar(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Parse(strings.NewReader("[core]\n\teditor = vim\n")))
	require.NoError(t, cfg.Parse(strings.NewReader("[core]\n\teditor = nano\n")))

	editor, ok := cfg.String("core.editor")
	require.True(t, ok)
	assert.Equal(t, "nano", editor)
}

func TestStringFallsBackThroughAlternateKeys(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Parse(strings.NewReader("[rebase]\n\tautosquash = true\n")))

	v, ok := cfg.String("revise.autosquash", "rebase.autosquash")
	require.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestBoolParsesYesNoAndDefaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Parse(strings.NewReader("[foo]\n\tbar = yes\n\tbaz = no\n")))
	assert.True(t, cfg.Bool("foo.bar", false))
	assert.False(t, cfg.Bool("foo.baz", true))
	assert.True(t, cfg.Bool("foo.missing", true))
}

func TestQuotedValuesAreUnquoted(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Parse(strings.NewReader(`[user]
	name = "Quoted Name"
`)))
	name, ok := cfg.String("user.name")
	require.True(t, ok)
	assert.Equal(t, "Quoted Name", name)
}
