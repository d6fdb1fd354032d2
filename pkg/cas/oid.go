package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashBytes returns the hex sha256 digest used as an object's oid throughout
// the store (§3: oids are always lowercase hex sha256).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through sha256, returning the hex digest and total
// byte count without buffering the whole payload in memory.
func HashReader(r io.Reader) (oid string, size int64, err error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
