// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package account

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// Identity is the local keypair. Its public half is the local Account.
type Identity struct {
	key     ed25519.PrivateKey
	account Account
}

// GenerateIdentity creates a new random Identity.
func GenerateIdentity() (*Identity, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newIdentity(key), nil
}

// IdentityFromSeed derives an Identity from a 32 byte ed25519 seed.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed has %d bytes instead of %d", len(seed), ed25519.SeedSize)
	}
	return newIdentity(ed25519.NewKeyFromSeed(seed)), nil
}

func newIdentity(key ed25519.PrivateKey) *Identity {
	id := &Identity{key: key}
	copy(id.account[:], key.Public().(ed25519.PublicKey))
	return id
}

// LoadIdentity reads an Identity file, containing the base58 encoded seed.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	seed, err := base58.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("identity file %s is not base58: %w", path, err)
	}
	return IdentityFromSeed(seed)
}

// LoadOrCreateIdentity loads the Identity from path or, if the file does not
// exist, generates a new one and stores it there.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	id, err := LoadIdentity(path)
	if err == nil || !os.IsNotExist(err) {
		return id, err
	}

	if id, err = GenerateIdentity(); err != nil {
		return nil, err
	}
	return id, id.Save(path)
}

// Save the Identity's seed to a file, readable only by its owner.
func (id *Identity) Save(path string) error {
	return os.WriteFile(path, []byte(base58.Encode(id.key.Seed())+"\n"), 0600)
}

// Account derived from this Identity.
func (id *Identity) Account() Account {
	return id.account
}

// PrivateKey returns the ed25519 private key, e.g., to create a certificate.
func (id *Identity) PrivateKey() ed25519.PrivateKey {
	return id.key
}

func (id *Identity) String() string {
	return id.account.String()
}
