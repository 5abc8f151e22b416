// Package shortcode turns allocator-issued integer IDs into short
// alphanumeric codes.
package shortcode

import (
	"fmt"

	hashids "github.com/speps/go-hashids/v2"
)

// Alphabet is the character set used for generated codes: a-z, A-Z, 0-9.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Codec encodes integer IDs into short codes using the hashids scheme.
// Distinct IDs always produce distinct codes under a fixed configuration.
// There is no decode path: lookups go through the URL directory.
//
// Configuration-change hazard: changing the salt (or the alphabet) makes
// previously generated codes unreproducible. Codes already stored keep
// resolving, but the same ID would encode differently from then on.
type Codec struct {
	h *hashids.HashID
}

// NewCodec builds a codec from the configured salt and minimum code length.
func NewCodec(salt string, minLength int) (*Codec, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = minLength
	hd.Alphabet = Alphabet

	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("init hashids codec: %w", err)
	}
	return &Codec{h: h}, nil
}

// Encode maps a non-negative ID to its short code. Output length is at least
// the configured minimum and grows as needed for large IDs.
func (c *Codec) Encode(id int64) (string, error) {
	if id < 0 {
		return "", fmt.Errorf("shortcode: id must be non-negative, got %d", id)
	}
	return c.h.EncodeInt64([]int64{id})
}
