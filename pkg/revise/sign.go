package revise

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/mystor/git-revise/modules/objfmt"
)

// SigningKey resolves the openpgp entity to sign replayed commits with,
// reading an armored private key from the path named by user.signingKey (a
// detached, already-decrypted key; passphrase-protected keys are out of
// scope the same way a bare `gpg --sign` invocation would need an agent).
// A repository with no configured key returns (nil, nil): signing is simply
// skipped, matching commit.gpgSign defaulting to false.
func (r *Repository) SigningKey() (*openpgp.Entity, error) {
	path, ok := r.cfg.String("user.signingkey")
	if !ok || path == "" {
		return nil, nil
	}
	path = expandHome(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("revise: reading user.signingKey: %w", err)
	}
	defer f.Close()

	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("revise: parsing signing key %s: %w", path, err)
	}
	for _, e := range ring {
		if e.PrivateKey != nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("revise: %s contains no private key", path)
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return home + "/" + rest
		}
	}
	return path
}

// signCommit detaches-signs the canonical encoding of c (with any existing
// gpgsig header stripped first, so the signature always covers exactly the
// bytes a verifier will re-derive) and returns a copy of c carrying the
// armored signature as its gpgsig header. The signature is computed before
// the commit is hashed, and the header it produces becomes part of the
// canonical form that hash covers — there is no unsigned-then-patched
// intermediate state visible to the object store.
func signCommit(c *objfmt.Commit, key *openpgp.Entity) (*objfmt.Commit, error) {
	unsigned := c.WithoutHeader("gpgsig")
	var encoded bytes.Buffer
	if err := unsigned.Body(&encoded); err != nil {
		return nil, err
	}

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, key, bytes.NewReader(encoded.Bytes()), nil); err != nil {
		return nil, fmt.Errorf("revise: signing commit: %w", err)
	}

	signed := *unsigned
	signed.ExtraHeaders = append(append([]objfmt.ExtraHeader(nil), unsigned.ExtraHeaders...),
		objfmt.ExtraHeader{K: "gpgsig", V: sig.String()})
	return &signed, nil
}
