/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fingerprint creates and parses did:key identifiers for Ed25519
// verification keys. Invitation recipient keys arrive either as naked
// base58 verkeys or as did:key identifiers; connection records store the
// naked form.
package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

const (
	// source: https://github.com/multiformats/multicodec/blob/master/table.csv.
	ed25519pub = 0xed // Ed25519 public key in multicodec table

	didKeyPrefix = "did:key:"
)

// CreateDIDKey creates a did:key ID using the multicodec key fingerprint as per the did:key format spec found at:
// https://w3c-ccg.github.io/did-method-key/#format.
func CreateDIDKey(pubKey []byte) (string, string) {
	methodID := KeyFingerprint(ed25519pub, pubKey)
	didKey := didKeyPrefix + methodID
	keyID := fmt.Sprintf("%s#%s", didKey, methodID)

	return didKey, keyID
}

// KeyFingerprint generates a multicodec fingerprint for pubKeyValue (raw key []byte).
func KeyFingerprint(code uint64, pubKeyValue []byte) string {
	multicodecValue := multicodec(code)
	mcLength := len(multicodecValue)
	buf := make([]uint8, mcLength+len(pubKeyValue))
	copy(buf, multicodecValue)
	copy(buf[mcLength:], pubKeyValue)

	return fmt.Sprintf("z%s", base58.Encode(buf))
}

func multicodec(code uint64) []byte {
	buf := make([]byte, 2)
	binary.PutUvarint(buf, code)

	return buf
}

// PubKeyFromFingerprint extracts the raw public key from a did:key fingerprint.
func PubKeyFromFingerprint(fingerprint string) ([]byte, error) {
	// did:key:MULTIBASE(base58-btc, MULTICODEC(public-key-type, raw-public-key-bytes))
	// https://w3c-ccg.github.io/did-method-key/#format
	if len(fingerprint) < 2 || fingerprint[0] != 'z' {
		return nil, fmt.Errorf("pubKeyFromFingerprint: not a base58-btc multibase fingerprint: %s", fingerprint)
	}

	mc := base58.Decode(fingerprint[1:]) // skip leading "z"
	if len(mc) < 2 || !bytes.Equal(multicodec(ed25519pub), mc[:2]) {
		return nil, fmt.Errorf("pubKeyFromFingerprint: not supported public key (fingerprint: %s)", fingerprint)
	}

	return mc[2:], nil
}

// PubKeyFromDIDKey extracts the raw public key from didKey, with or without a key-reference fragment.
func PubKeyFromDIDKey(didKey string) ([]byte, error) {
	if !IsDIDKey(didKey) {
		return nil, fmt.Errorf("pubKeyFromDIDKey: not a did:key identifier: %s", didKey)
	}

	fp := strings.TrimPrefix(didKey, didKeyPrefix)
	if idx := strings.Index(fp, "#"); idx != -1 {
		fp = fp[:idx]
	}

	return PubKeyFromFingerprint(fp)
}

// KeyB58FromDIDKey returns the base58 verkey named by didKey. A naked base58
// verkey is returned unchanged, so stored keys normalize to one form.
func KeyB58FromDIDKey(didKey string) (string, error) {
	if !IsDIDKey(didKey) {
		return didKey, nil
	}

	pubKey, err := PubKeyFromDIDKey(didKey)
	if err != nil {
		return "", err
	}

	return base58.Encode(pubKey), nil
}

// IsDIDKey reports whether the given identifier uses the did:key method.
func IsDIDKey(id string) bool {
	return strings.HasPrefix(id, didKeyPrefix)
}
