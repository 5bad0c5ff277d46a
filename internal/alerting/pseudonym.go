package alerting

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Pseudonymizer replaces member IDs in alerts with a keyed BLAKE2b digest,
// stable for as long as the key is.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer keys the digest with key. An empty key is replaced by a
// random per-process key.
func NewPseudonymizer(key []byte) (*Pseudonymizer, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	if _, err := blake2b.New256(key); err != nil {
		return nil, err
	}
	return &Pseudonymizer{key: key}, nil
}

// Member returns the pseudonym for memberID, e.g. "m-1f3a9c0d5e7b2a41".
func (p *Pseudonymizer) Member(memberID int64) string {
	h, _ := blake2b.New256(p.key)
	h.Write([]byte(strconv.FormatInt(memberID, 10)))
	return "m-" + hex.EncodeToString(h.Sum(nil)[:8])
}
