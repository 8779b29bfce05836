package boltcards

import (
	"crypto/hmac"
	"crypto/sha512"
	"strconv"
)

// SLIP-0021 symmetric key derivation. Every card key is a child of the one
// master seed, so nothing secret has to be stored per card, only the integer
// derivation index.

const slip21MasterHMACKey = "Symmetric key seed"

type slip21Node [64]byte

func slip21FromSeed(seed []byte) slip21Node {
	mac := hmac.New(sha512.New, []byte(slip21MasterHMACKey))
	mac.Write(seed)

	var node slip21Node
	copy(node[:], mac.Sum(nil))
	return node
}

func (n slip21Node) child(label string) slip21Node {
	mac := hmac.New(sha512.New, n[:32])
	mac.Write([]byte{0x00})
	mac.Write([]byte(label))

	var child slip21Node
	copy(child[:], mac.Sum(nil))
	return child
}

// key returns the node's symmetric key material.
func (n slip21Node) key() []byte {
	out := make([]byte, 32)
	copy(out, n[32:])
	return out
}

// CardKeys are the five AES-128 keys a physical card is programmed with.
// k0 authenticates card administration, k1 encrypts the tap payload, k2 keys
// the tap CMAC, k3/k4 are reserved by the card spec.
type CardKeys struct {
	K0 []byte
	K1 []byte
	K2 []byte
	K3 []byte
	K4 []byte
}

// DeriveCardKeys derives the full key set for a derivation index. Labels are
// the decimal index concatenated with the key name, and only the first 16
// bytes of each derived key are used.
func DeriveCardKeys(masterSeed []byte, index int) CardKeys {
	return CardKeys{
		K0: deriveCardKey(masterSeed, index, "k0"),
		K1: deriveCardKey(masterSeed, index, "k1"),
		K2: deriveCardKey(masterSeed, index, "k2"),
		K3: deriveCardKey(masterSeed, index, "k3"),
		K4: deriveCardKey(masterSeed, index, "k4"),
	}
}

func deriveCardKey(masterSeed []byte, index int, name string) []byte {
	root := slip21FromSeed(masterSeed)
	label := strconv.Itoa(index) + name
	return root.child(label).key()[:16]
}
