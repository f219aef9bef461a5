/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package decorator

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	mockkms "github.com/emergentid/didx/pkg/internal/mock/kms"
	"github.com/emergentid/didx/pkg/kms"
)

func TestAttachmentData_Fetch(t *testing.T) {
	t.Run("json contents", func(t *testing.T) {
		data := AttachmentData{JSON: map[string]string{"id": "abc"}}

		payload, err := data.Fetch()
		require.NoError(t, err)
		require.JSONEq(t, `{"id":"abc"}`, string(payload))
	})

	t.Run("base64 contents", func(t *testing.T) {
		attach := NewAttachment([]byte(`{"id":"abc"}`))
		require.NotEmpty(t, attach.ID)
		require.Equal(t, "application/json", attach.MimeType)

		payload, err := attach.Data.Fetch()
		require.NoError(t, err)
		require.Equal(t, `{"id":"abc"}`, string(payload))
	})

	t.Run("invalid base64", func(t *testing.T) {
		data := AttachmentData{Base64: "$$$"}

		_, err := data.Fetch()
		require.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		data := AttachmentData{}

		_, err := data.Fetch()
		require.EqualError(t, err, "no contents in this attachment")
	})
}

func TestAttachmentData_SignVerify(t *testing.T) {
	wallet := mockkms.New()

	handle, err := wallet.CreateLocalKey(kms.MethodSov, kms.KeyTypeEd25519)
	require.NoError(t, err)

	t.Run("sign then verify", func(t *testing.T) {
		attach := NewAttachment([]byte(`{"id":"WgWxqztrNooG92RXvxSTWv"}`))
		require.NoError(t, attach.Data.Sign(wallet, handle.VerKey))
		require.NotNil(t, attach.Data.Signature)

		require.NoError(t, attach.Data.Verify(wallet, handle.VerKey))

		// header key used when no expected key is supplied
		require.NoError(t, attach.Data.Verify(wallet, ""))

		signer, err := attach.Data.SignerKey()
		require.NoError(t, err)
		require.Equal(t, handle.VerKey, signer)
	})

	t.Run("tampered payload", func(t *testing.T) {
		attach := NewAttachment([]byte(`{"id":"WgWxqztrNooG92RXvxSTWv"}`))
		require.NoError(t, attach.Data.Sign(wallet, handle.VerKey))

		attach.Data.Base64 = base64.StdEncoding.EncodeToString([]byte(`{"id":"attacker"}`))

		err := attach.Data.Verify(wallet, handle.VerKey)
		require.Error(t, err)
		require.Contains(t, err.Error(), "signature verification failed")
	})

	t.Run("wrong expected key", func(t *testing.T) {
		attach := NewAttachment([]byte(`{"id":"WgWxqztrNooG92RXvxSTWv"}`))
		require.NoError(t, attach.Data.Sign(wallet, handle.VerKey))

		other, err := wallet.CreateLocalKey(kms.MethodSov, kms.KeyTypeEd25519)
		require.NoError(t, err)

		require.Error(t, attach.Data.Verify(wallet, other.VerKey))
	})

	t.Run("unsigned", func(t *testing.T) {
		attach := NewAttachment([]byte(`{}`))

		require.ErrorIs(t, attach.Data.Verify(wallet, handle.VerKey), ErrNotSigned)

		_, err := attach.Data.SignerKey()
		require.ErrorIs(t, err, ErrNotSigned)
	})

	t.Run("sign requires base64 payload", func(t *testing.T) {
		data := AttachmentData{JSON: map[string]string{"id": "abc"}}

		require.Error(t, data.Sign(wallet, handle.VerKey))
	})

	t.Run("unknown signing key", func(t *testing.T) {
		attach := NewAttachment([]byte(`{}`))

		require.ErrorIs(t, attach.Data.Sign(wallet, "4SnwqFxNS2WRwMAPVFhFcPYgDsVhKMV4Kd9wSQN3qo9t"),
			kms.ErrKeyNotFound)
	})
}
