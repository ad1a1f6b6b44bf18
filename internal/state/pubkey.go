package state

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Pubkey identifies an account outside the clearing house: an oracle feed,
// a vault, a mint or a history log. It is rendered in base58.
type Pubkey [32]byte

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// ParsePubkey decodes a base58 identifier of exactly 32 bytes.
func ParsePubkey(s string) (Pubkey, error) {
	var p Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("pubkey %q: got %d bytes, want %d", s, len(raw), len(p))
	}
	copy(p[:], raw)
	return p, nil
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
