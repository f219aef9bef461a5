/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"

	"github.com/emergentid/didx/pkg/doc/did"
)

func testDoc() *did.Doc {
	return did.BuildDoc("", "8HH5gYEeNc3z7PYXmd54d4", []string{"https://agent.example.com"},
		[]string{"routing-key-1"})
}

func TestCreateDIDPeer4(t *testing.T) {
	long, err := CreateDIDPeer4(testDoc())
	require.NoError(t, err)
	require.True(t, IsLongForm(long))
	require.False(t, IsShortForm(long))

	short := LongToShort(long)
	require.True(t, IsShortForm(short))
	require.True(t, strings.HasPrefix(long, short+":"))
}

func TestLongToShort_Idempotent(t *testing.T) {
	long, err := CreateDIDPeer4(testDoc())
	require.NoError(t, err)

	short := LongToShort(long)

	// applying the transform to an already-short DID is a no-op
	require.Equal(t, short, LongToShort(short))
	require.Equal(t, short, LongToShort(LongToShort(long)))

	// non-peer-4 identifiers pass through unchanged
	require.Equal(t, "did:sov:WgWxqztrNooG92RXvxSTWv", LongToShort("did:sov:WgWxqztrNooG92RXvxSTWv"))
	require.Equal(t, "WgWxqztrNooG92RXvxSTWv", LongToShort("WgWxqztrNooG92RXvxSTWv"))
}

func TestCreateDIDPeer4_Deterministic(t *testing.T) {
	long1, err := CreateDIDPeer4(testDoc())
	require.NoError(t, err)

	long2, err := CreateDIDPeer4(testDoc())
	require.NoError(t, err)

	require.Equal(t, long1, long2)

	other := testDoc()
	other.Service[0].ServiceEndpoint = "https://other.example.com"

	long3, err := CreateDIDPeer4(other)
	require.NoError(t, err)
	require.NotEqual(t, long1, long3)
}

func TestResolveLongForm(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		long, err := CreateDIDPeer4(testDoc())
		require.NoError(t, err)

		doc, err := ResolveLongForm(long)
		require.NoError(t, err)
		require.Equal(t, long, doc.ID)
		require.Len(t, doc.Service, 1)
		require.Equal(t, "https://agent.example.com", doc.Service[0].ServiceEndpoint)
	})

	t.Run("not long form", func(t *testing.T) {
		long, err := CreateDIDPeer4(testDoc())
		require.NoError(t, err)

		_, err = ResolveLongForm(LongToShort(long))
		require.Error(t, err)
		require.Contains(t, err.Error(), "not a long-form identifier")
	})

	t.Run("hash mismatch", func(t *testing.T) {
		long1, err := CreateDIDPeer4(testDoc())
		require.NoError(t, err)

		other := testDoc()
		other.Service[0].ServiceEndpoint = "https://other.example.com"

		long2, err := CreateDIDPeer4(other)
		require.NoError(t, err)

		// hash of one document with the encoding of another
		forged := long1[:strings.Index(long1, ":z")] + long2[strings.Index(long2, ":z"):]

		_, err = ResolveLongForm(forged)
		require.Error(t, err)
		require.Contains(t, err.Error(), "content hash mismatch")
	})
}

func TestCreateDIDPeer2(t *testing.T) {
	pubKey, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id, err := CreateDIDPeer2(base58.Encode(pubKey), &did.Service{
		Type:            did.DIDCommServiceType,
		ServiceEndpoint: "https://agent.example.com",
		RoutingKeys:     []string{"routing-key-1"},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, Prefix2+".Vz"))
	require.Contains(t, id, ".S")

	_, err = CreateDIDPeer2("too-short", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not an ed25519 key")
}
