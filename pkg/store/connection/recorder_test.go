/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	provider storage.Provider
}

func (p *mockProvider) StorageProvider() storage.Provider {
	return p.provider
}

func newRecorder(t *testing.T) *Recorder {
	t.Helper()

	recorder, err := NewRecorder(&mockProvider{provider: mem.NewProvider()})
	require.NoError(t, err)

	return recorder
}

func TestRecorder_SaveAndGetRecord(t *testing.T) {
	recorder := newRecorder(t)

	record := &Record{
		ConnectionID:    "conn-1",
		State:           StateInvited,
		TheirRole:       RoleResponder,
		Accept:          AcceptManual,
		InvitationKey:   "8HH5gYEeNc3z7PYXmd54d4",
		InvitationMsgID: "inv-msg-1",
	}
	require.NoError(t, recorder.SaveRecord(record))

	loaded, err := recorder.GetRecord("conn-1")
	require.NoError(t, err)
	require.Equal(t, record, loaded)

	_, err = recorder.GetRecord("missing")
	require.ErrorIs(t, err, storage.ErrDataNotFound)

	require.Error(t, recorder.SaveRecord(&Record{}))
}

func TestRecorder_Indexes(t *testing.T) {
	recorder := newRecorder(t)

	record := &Record{
		ConnectionID:    "conn-1",
		State:           StateInvited,
		TheirRole:       RoleResponder,
		InvitationKey:   "8HH5gYEeNc3z7PYXmd54d4",
		InvitationMsgID: "inv-msg-1",
		RequestID:       "req-1",
		MyDID:           "did:sov:LjgpST2rjsoxYegQDRm7EL",
		TheirDID:        "did:sov:WgWxqztrNooG92RXvxSTWv",
	}
	require.NoError(t, recorder.SaveRecord(record))

	t.Run("by invitation key", func(t *testing.T) {
		loaded, err := recorder.GetRecordByInvitationKey("8HH5gYEeNc3z7PYXmd54d4", RoleResponder)
		require.NoError(t, err)
		require.Equal(t, "conn-1", loaded.ConnectionID)

		// peer role is part of the index
		_, err = recorder.GetRecordByInvitationKey("8HH5gYEeNc3z7PYXmd54d4", RoleRequester)
		require.ErrorIs(t, err, storage.ErrDataNotFound)
	})

	t.Run("invitation key index only covers invited records", func(t *testing.T) {
		fork := &Record{
			ConnectionID:  "conn-fork",
			State:         StateRequested,
			TheirRole:     RoleResponder,
			InvitationKey: "8HH5gYEeNc3z7PYXmd54d4",
		}
		require.NoError(t, recorder.SaveRecord(fork))

		loaded, err := recorder.GetRecordByInvitationKey("8HH5gYEeNc3z7PYXmd54d4", RoleResponder)
		require.NoError(t, err)
		require.Equal(t, "conn-1", loaded.ConnectionID)
	})

	t.Run("by request id", func(t *testing.T) {
		loaded, err := recorder.GetRecordByRequestID("req-1", RoleResponder)
		require.NoError(t, err)
		require.Equal(t, "conn-1", loaded.ConnectionID)

		_, err = recorder.GetRecordByRequestID("other", RoleResponder)
		require.ErrorIs(t, err, storage.ErrDataNotFound)
	})

	t.Run("by invitation message id", func(t *testing.T) {
		loaded, err := recorder.GetRecordByInvitationMsgID("inv-msg-1", RoleResponder)
		require.NoError(t, err)
		require.Equal(t, "conn-1", loaded.ConnectionID)
	})

	t.Run("by DID pair", func(t *testing.T) {
		loaded, err := recorder.GetRecordByDIDs("did:sov:LjgpST2rjsoxYegQDRm7EL", "did:sov:WgWxqztrNooG92RXvxSTWv")
		require.NoError(t, err)
		require.Equal(t, "conn-1", loaded.ConnectionID)

		_, err = recorder.GetRecordByDIDs("did:sov:WgWxqztrNooG92RXvxSTWv", "did:sov:LjgpST2rjsoxYegQDRm7EL")
		require.ErrorIs(t, err, storage.ErrDataNotFound)
	})
}

func TestRecorder_LegacyRoleTag(t *testing.T) {
	recorder := newRecorder(t)

	// index written with the legacy role encoding
	hash, err := computeHash([]byte("req-legacy"))
	require.NoError(t, err)

	require.NoError(t, recorder.SaveRecord(&Record{ConnectionID: "conn-legacy", TheirRole: RoleRequester}))
	require.NoError(t, recorder.store.Put("req_"+hash+"_invitee", []byte("conn-legacy")))

	loaded, err := recorder.GetRecordByRequestID("req-legacy", RoleRequester)
	require.NoError(t, err)
	require.Equal(t, "conn-legacy", loaded.ConnectionID)
}

func TestRecorder_Metadata(t *testing.T) {
	recorder := newRecorder(t)

	require.NoError(t, recorder.SetMetadata("conn-1", "send_mediation_request_on_connection", true))
	require.NoError(t, recorder.SetMetadata("conn-1", "label", "alice"))

	var flag bool
	require.NoError(t, recorder.GetMetadata("conn-1", "send_mediation_request_on_connection", &flag))
	require.True(t, flag)

	var label string
	require.NoError(t, recorder.GetMetadata("conn-1", "label", &label))
	require.Equal(t, "alice", label)

	require.ErrorIs(t, recorder.GetMetadata("conn-1", "missing", &label), storage.ErrDataNotFound)

	meta, err := recorder.MetadataAll("conn-1")
	require.NoError(t, err)
	require.Len(t, meta, 2)

	empty, err := recorder.MetadataAll("conn-2")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRecorder_AttachedMessages(t *testing.T) {
	recorder := newRecorder(t)

	type msg struct {
		ID string `json:"@id"`
	}

	require.NoError(t, recorder.SaveInvitation("conn-1", &msg{ID: "inv-1"}))
	require.NoError(t, recorder.SaveRequest("conn-1", &msg{ID: "req-1"}))

	inv := &msg{}
	require.NoError(t, recorder.GetInvitation("conn-1", inv))
	require.Equal(t, "inv-1", inv.ID)

	req := &msg{}
	require.NoError(t, recorder.GetRequest("conn-1", req))
	require.Equal(t, "req-1", req.ID)

	require.ErrorIs(t, recorder.GetInvitation("conn-2", inv), storage.ErrDataNotFound)
}
