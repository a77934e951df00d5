package receipt

import "golang.org/x/crypto/sha3"

// sha3_256 is the fingerprint hash used across this module, matching the
// node's own DevStdCryptoProvider.SHA3_256 construction.
func sha3_256(b []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
