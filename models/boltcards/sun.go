package boltcards

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

// SUN (Secure Unique NFC) payload handling. Each tap carries two query
// parameters: p, a 16-byte AES-128-CBC encrypted block holding the card UID
// and tap counter, and c, an 8-byte truncated AES-CMAC over both.

const (
	// sunTagByte marks a valid decrypted PICC data block
	sunTagByte = 0xC7
	// sunPayloadLength is the encrypted p parameter length in bytes
	sunPayloadLength = 16
	// sunUIDLength is the card hardware UID length in bytes
	sunUIDLength = 7
	// sunCMACLength is the truncated c parameter length in bytes
	sunCMACLength = 8
)

// sv2Prefix starts the session-key derivation input defined by the card's
// SUN message spec.
var sv2Prefix = []byte{0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80}

var (
	ErrBadPayload = errors.New("tap payload is malformed")
	ErrBadCMAC    = errors.New("tap CMAC check failed")
)

// TapData is the decrypted content of a tap's p parameter.
type TapData struct {
	// UID is the 7-byte card hardware identifier
	UID []byte
	// Counter is the card's tap counter, encoded little-endian in 3 bytes
	Counter uint32
	// rawCounter keeps the wire encoding for the CMAC check
	rawCounter []byte
}

// decryptTapPayload decrypts the p parameter with k1 and validates its
// structure. A wrong key yields garbage that fails the tag byte check, which
// is what makes the group scan possible.
func decryptTapPayload(k1, payload []byte) (TapData, error) {
	if len(payload) != sunPayloadLength {
		return TapData{}, errors.Wrapf(ErrBadPayload, "payload is %d bytes", len(payload))
	}

	block, err := aes.NewCipher(k1)
	if err != nil {
		return TapData{}, errors.Wrap(err, "could not create cipher from k1")
	}

	plain := make([]byte, sunPayloadLength)
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, payload)

	if plain[0] != sunTagByte {
		return TapData{}, ErrBadPayload
	}

	uid := make([]byte, sunUIDLength)
	copy(uid, plain[1:1+sunUIDLength])
	rawCounter := make([]byte, 3)
	copy(rawCounter, plain[1+sunUIDLength:1+sunUIDLength+3])

	counter := uint32(rawCounter[0]) | uint32(rawCounter[1])<<8 | uint32(rawCounter[2])<<16

	return TapData{
		UID:        uid,
		Counter:    counter,
		rawCounter: rawCounter,
	}, nil
}

// encryptTapPayload builds the p parameter a card with the given k1 would
// emit. The inverse of decryptTapPayload.
func encryptTapPayload(k1, uid []byte, counter uint32) ([]byte, error) {
	if len(uid) != sunUIDLength {
		return nil, errors.Wrapf(ErrBadPayload, "uid is %d bytes", len(uid))
	}

	plain := make([]byte, sunPayloadLength)
	plain[0] = sunTagByte
	copy(plain[1:], uid)
	plain[1+sunUIDLength] = byte(counter)
	plain[2+sunUIDLength] = byte(counter >> 8)
	plain[3+sunUIDLength] = byte(counter >> 16)

	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, errors.Wrap(err, "could not create cipher from k1")
	}

	payload := make([]byte, sunPayloadLength)
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(payload, plain)

	return payload, nil
}

// computeTapCMAC derives the truncated CMAC a genuine card produces for the
// given UID and counter: a session key is CMAC'd out of k2 and the sv2
// block, the session key MACs an empty message, and the odd-indexed bytes of
// that MAC form the 8-byte tag.
func computeTapCMAC(k2 []byte, data TapData) ([]byte, error) {
	sv2 := make([]byte, 0, len(sv2Prefix)+sunUIDLength+3)
	sv2 = append(sv2, sv2Prefix...)
	sv2 = append(sv2, data.UID...)
	sv2 = append(sv2, data.rawCounter...)

	block, err := aes.NewCipher(k2)
	if err != nil {
		return nil, errors.Wrap(err, "could not create cipher from k2")
	}
	sessionKey, err := cmac.Sum(sv2, block, aes.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not compute session key")
	}

	sessionBlock, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, errors.Wrap(err, "could not create session cipher")
	}
	full, err := cmac.Sum(nil, sessionBlock, aes.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not compute tap cmac")
	}

	truncated := make([]byte, sunCMACLength)
	for i := 0; i < sunCMACLength; i++ {
		truncated[i] = full[i*2+1]
	}
	return truncated, nil
}

// checkTapCMAC verifies the c parameter against the decrypted tap data.
func checkTapCMAC(k2 []byte, data TapData, got []byte) error {
	want, err := computeTapCMAC(k2, data)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return ErrBadCMAC
	}
	return nil
}
