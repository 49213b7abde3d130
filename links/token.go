package links

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sqids/sqids-go"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz1234567890"

// TokenSource produces public share-link identifiers.
type TokenSource interface {
	New() (string, error)
}

// TokenGenerator encodes short URL-safe tokens. A token derived from the
// timestamp alone would collide for two issuances in the same millisecond,
// so every token also carries 32 bits of fresh entropy.
type TokenGenerator struct {
	enc *sqids.Sqids
	now func() time.Time
}

func NewTokenGenerator() (*TokenGenerator, error) {
	enc, err := sqids.New(sqids.Options{
		MinLength: 6,
		Alphabet:  tokenAlphabet,
	})
	if err != nil {
		return nil, fmt.Errorf("init token encoder: %w", err)
	}
	return &TokenGenerator{enc: enc, now: time.Now}, nil
}

func (g *TokenGenerator) New() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	nonce := binary.BigEndian.Uint32(buf[:])
	token, err := g.enc.Encode([]uint64{uint64(g.now().UnixMilli()), uint64(nonce)})
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return token, nil
}

var _ TokenSource = (*TokenGenerator)(nil)
