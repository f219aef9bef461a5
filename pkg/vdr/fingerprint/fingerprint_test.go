/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fingerprint

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"
)

func TestCreateDIDKey(t *testing.T) {
	pubKey, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	didKey, keyID := CreateDIDKey(pubKey)
	require.True(t, strings.HasPrefix(didKey, "did:key:z"))
	require.True(t, strings.HasPrefix(keyID, didKey+"#"))

	recovered, err := PubKeyFromDIDKey(didKey)
	require.NoError(t, err)
	require.Equal(t, []byte(pubKey), recovered)

	recovered, err = PubKeyFromDIDKey(keyID)
	require.NoError(t, err)
	require.Equal(t, []byte(pubKey), recovered)
}

func TestPubKeyFromFingerprint_Errors(t *testing.T) {
	t.Run("missing multibase prefix", func(t *testing.T) {
		_, err := PubKeyFromFingerprint("Qm12345")
		require.Error(t, err)
		require.Contains(t, err.Error(), "not a base58-btc multibase fingerprint")
	})

	t.Run("wrong multicodec", func(t *testing.T) {
		// 0x12 is not the ed25519 code.
		_, err := PubKeyFromFingerprint("z" + base58.Encode([]byte{0x12, 0x01, 0xab}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "not supported public key")
	})
}

func TestKeyB58FromDIDKey(t *testing.T) {
	pubKey, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	didKey, _ := CreateDIDKey(pubKey)

	b58, err := KeyB58FromDIDKey(didKey)
	require.NoError(t, err)
	require.Equal(t, base58.Encode(pubKey), b58)

	// naked verkeys pass through unchanged
	b58, err = KeyB58FromDIDKey("3YJCx3zz5zEcmdj2UhzLJq")
	require.NoError(t, err)
	require.Equal(t, "3YJCx3zz5zEcmdj2UhzLJq", b58)

	_, err = KeyB58FromDIDKey("did:key:Qmnot-multibase")
	require.Error(t, err)
}
