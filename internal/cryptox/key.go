package cryptox

import (
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmitrijs2005/secretvault/internal/common"
)

const redacted = "[redacted]"

// Key is a derived vault key. It only ever lives in memory for the duration
// of one operation; it formats and logs as a placeholder.
type Key []byte

func (k Key) String() string { return redacted }

func (k Key) GoString() string { return redacted }

func (k Key) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, redacted) }

func (k Key) LogValue() slog.Value { return slog.StringValue(redacted) }

// Wipe zeroes the key material in place.
func (k Key) Wipe() { common.WipeByteArray(k) }

// Verifies reports whether k hashes to the stored verifier.
func (k Key) Verifies(verifier []byte) bool {
	return subtle.ConstantTimeCompare(MakeVerifier(k), verifier) == 1
}

func (k Key) encKey() []byte { return k[:KeySize/2] }

func (k Key) macKey() []byte { return k[KeySize/2:] }
