/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package did

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDoc(t *testing.T) {
	doc := BuildDoc("WgWxqztrNooG92RXvxSTWv", "8HH5gYEeNc3z7PYXmd54d4", []string{"https://a", "https://b"},
		[]string{"routing-key-1"})

	require.Equal(t, "WgWxqztrNooG92RXvxSTWv", doc.ID)
	require.Len(t, doc.VerificationMethod, 1)
	require.Equal(t, "8HH5gYEeNc3z7PYXmd54d4", doc.VerificationMethod[0].PublicKeyBase58)
	require.Equal(t, doc.VerificationMethod[0].ID, doc.Authentication[0])
	require.Len(t, doc.Service, 2)
	require.Equal(t, "https://a", doc.Service[0].ServiceEndpoint)
	require.Equal(t, []string{"routing-key-1"}, doc.Service[1].RoutingKeys)
	require.Equal(t, DIDCommServiceType, doc.Service[0].Type)
}

func TestParseDocument(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		doc := BuildDoc("WgWxqztrNooG92RXvxSTWv", "8HH5gYEeNc3z7PYXmd54d4", []string{"https://a"}, nil)

		bytes, err := doc.JSONBytes()
		require.NoError(t, err)

		parsed, err := ParseDocument(bytes)
		require.NoError(t, err)
		require.Equal(t, doc, parsed)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseDocument([]byte("not-a-doc"))
		require.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{"service":[]}`))
		require.Error(t, err)
		require.Contains(t, err.Error(), "no id")
	})
}
