package chain

import (
	"errors"
	"fmt"

	"github.com/vedhavyas/go-subkey/v2"
)

// AccountIDLen is the size of an sr25519/ed25519 account id.
const AccountIDLen = 32

// maxSS58Prefix is the largest network identifier the two-byte form can carry.
const maxSS58Prefix = 16383

// ErrInvalidAddress reports an address that is not valid SS58.
var ErrInvalidAddress = errors.New("invalid ss58 address")

// DecodeAddress returns the account id and network prefix encoded in an SS58 address.
func DecodeAddress(address string) ([]byte, uint16, error) {
	// the minimum plausible address is 35 bytes, which is at least 47 base58 characters
	if len(address) < 47 {
		return nil, 0, fmt.Errorf("%w: %s: too short", ErrInvalidAddress, address)
	}
	prefix, id, err := subkey.SS58Decode(address)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	if len(id) != AccountIDLen {
		return nil, 0, fmt.Errorf("%w: %s: unexpected account id length %d", ErrInvalidAddress, address, len(id))
	}
	return id, prefix, nil
}

// EncodeAddress renders an account id as SS58 for the given network prefix.
func EncodeAddress(id []byte, prefix uint16) (string, error) {
	if len(id) != AccountIDLen {
		return "", fmt.Errorf("account id must be %d bytes, got %d", AccountIDLen, len(id))
	}
	if prefix > maxSS58Prefix {
		return "", fmt.Errorf("ss58 prefix %d out of range", prefix)
	}
	return subkey.SS58Encode(id, prefix), nil
}
