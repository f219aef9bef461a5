/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	connKeyPrefix      = "conn_%s"
	invKeyPrefix       = "inv_%s_%s"
	requestKeyPrefix   = "req_%s_%s"
	invMsgKeyPrefix    = "invmsg_%s_%s"
	didConnKeyPrefix   = "didconn_%s"
	metadataKeyPrefix  = "meta_%s"
	invAttachKeyPrefix = "attach_inv_%s"
	reqAttachKeyPrefix = "attach_req_%s"
)

type provider interface {
	StorageProvider() storage.Provider
}

// Recorder persists connection records along with the secondary indexes
// needed to find them again from inbound protocol messages.
type Recorder struct {
	store storage.Store
}

// NewRecorder opens the connection store.
func NewRecorder(p provider) (*Recorder, error) {
	store, err := p.StorageProvider().OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("open connection store: %w", err)
	}

	return &Recorder{store: store}, nil
}

// SaveRecord persists the record and refreshes the indexes for whichever
// correlation handles it carries: invitation key, request id, invitation
// message id and the DID pair.
func (r *Recorder) SaveRecord(record *Record) error {
	if record.ConnectionID == "" {
		return errors.New("save connection record: empty connection id")
	}

	bytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("save connection record: %w", err)
	}

	if err := r.store.Put(fmt.Sprintf(connKeyPrefix, record.ConnectionID), bytes); err != nil {
		return fmt.Errorf("save connection record: %w", err)
	}

	roleTag := record.TheirRole.Tags()[0]

	// only records still awaiting a request resolve by invitation key, so a
	// connection forked from a multi-use invitation never shadows it
	if record.InvitationKey != "" && record.State == StateInvited {
		if err := r.saveIndex(invKeyPrefix, record.InvitationKey, roleTag, record.ConnectionID); err != nil {
			return err
		}
	}

	if record.RequestID != "" {
		if err := r.saveIndex(requestKeyPrefix, record.RequestID, roleTag, record.ConnectionID); err != nil {
			return err
		}
	}

	if record.InvitationMsgID != "" {
		if err := r.saveIndex(invMsgKeyPrefix, record.InvitationMsgID, roleTag, record.ConnectionID); err != nil {
			return err
		}
	}

	if record.MyDID != "" && record.TheirDID != "" {
		hash, err := computeHash([]byte(record.MyDID + "|" + record.TheirDID))
		if err != nil {
			return err
		}

		key := fmt.Sprintf(didConnKeyPrefix, hash)
		if err := r.store.Put(key, []byte(record.ConnectionID)); err != nil {
			return fmt.Errorf("save connection record: did index: %w", err)
		}
	}

	return nil
}

// GetRecord returns the record stored under connectionID.
func (r *Recorder) GetRecord(connectionID string) (*Record, error) {
	bytes, err := r.store.Get(fmt.Sprintf(connKeyPrefix, connectionID))
	if err != nil {
		return nil, fmt.Errorf("get connection record: %w", err)
	}

	record := &Record{}
	if err := json.Unmarshal(bytes, record); err != nil {
		return nil, fmt.Errorf("get connection record: %w", err)
	}

	return record, nil
}

// GetRecordByInvitationKey finds the connection holding an invitation key,
// with the peer in the given role.
func (r *Recorder) GetRecordByInvitationKey(invitationKey string, role Role) (*Record, error) {
	return r.getByIndex(invKeyPrefix, invitationKey, role)
}

// GetRecordByRequestID finds the connection correlated to a request message id.
func (r *Recorder) GetRecordByRequestID(requestID string, role Role) (*Record, error) {
	return r.getByIndex(requestKeyPrefix, requestID, role)
}

// GetRecordByInvitationMsgID finds the connection created from an invitation
// message id.
func (r *Recorder) GetRecordByInvitationMsgID(invitationMsgID string, role Role) (*Record, error) {
	return r.getByIndex(invMsgKeyPrefix, invitationMsgID, role)
}

// GetRecordByDIDs finds the connection between the local and remote DIDs.
func (r *Recorder) GetRecordByDIDs(myDID, theirDID string) (*Record, error) {
	hash, err := computeHash([]byte(myDID + "|" + theirDID))
	if err != nil {
		return nil, err
	}

	connID, err := r.store.Get(fmt.Sprintf(didConnKeyPrefix, hash))
	if err != nil {
		return nil, fmt.Errorf("get connection record by DIDs: %w", err)
	}

	return r.GetRecord(string(connID))
}

func (r *Recorder) saveIndex(prefix, value, roleTag, connectionID string) error {
	hash, err := computeHash([]byte(value))
	if err != nil {
		return err
	}

	key := fmt.Sprintf(prefix, hash, roleTag)
	if err := r.store.Put(key, []byte(connectionID)); err != nil {
		return fmt.Errorf("save connection record: index: %w", err)
	}

	return nil
}

// getByIndex tries the role's current tag first, then the legacy one, so
// records written by older agents still resolve.
func (r *Recorder) getByIndex(prefix, value string, role Role) (*Record, error) {
	hash, err := computeHash([]byte(value))
	if err != nil {
		return nil, err
	}

	for _, tag := range role.Tags() {
		connID, err := r.store.Get(fmt.Sprintf(prefix, hash, tag))
		if errors.Is(err, storage.ErrDataNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("get connection record by index: %w", err)
		}

		return r.GetRecord(string(connID))
	}

	return nil, fmt.Errorf("get connection record by index: %w", storage.ErrDataNotFound)
}

// SetMetadata stores an arbitrary value under key in the connection's
// metadata map.
func (r *Recorder) SetMetadata(connectionID, key string, value interface{}) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set connection metadata: %w", err)
	}

	meta, err := r.MetadataAll(connectionID)
	if err != nil {
		return err
	}

	meta[key] = valueBytes

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("set connection metadata: %w", err)
	}

	if err := r.store.Put(fmt.Sprintf(metadataKeyPrefix, connectionID), metaBytes); err != nil {
		return fmt.Errorf("set connection metadata: %w", err)
	}

	return nil
}

// GetMetadata loads the value stored under key into out. Missing keys
// return storage.ErrDataNotFound.
func (r *Recorder) GetMetadata(connectionID, key string, out interface{}) error {
	meta, err := r.MetadataAll(connectionID)
	if err != nil {
		return err
	}

	valueBytes, ok := meta[key]
	if !ok {
		return fmt.Errorf("get connection metadata %q: %w", key, storage.ErrDataNotFound)
	}

	if err := json.Unmarshal(valueBytes, out); err != nil {
		return fmt.Errorf("get connection metadata %q: %w", key, err)
	}

	return nil
}

// MetadataAll returns the connection's full metadata map. A connection with
// no metadata yields an empty map.
func (r *Recorder) MetadataAll(connectionID string) (map[string]json.RawMessage, error) {
	metaBytes, err := r.store.Get(fmt.Sprintf(metadataKeyPrefix, connectionID))
	if errors.Is(err, storage.ErrDataNotFound) {
		return map[string]json.RawMessage{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get connection metadata: %w", err)
	}

	meta := map[string]json.RawMessage{}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("get connection metadata: %w", err)
	}

	return meta, nil
}

// SaveInvitation keeps the invitation a connection was created from, for
// later steps that need its original contents.
func (r *Recorder) SaveInvitation(connectionID string, invitation interface{}) error {
	return r.saveAttached(invAttachKeyPrefix, connectionID, invitation)
}

// GetInvitation loads the invitation stored for a connection.
func (r *Recorder) GetInvitation(connectionID string, out interface{}) error {
	return r.getAttached(invAttachKeyPrefix, connectionID, out)
}

// SaveRequest keeps the connection request for the response step.
func (r *Recorder) SaveRequest(connectionID string, request interface{}) error {
	return r.saveAttached(reqAttachKeyPrefix, connectionID, request)
}

// GetRequest loads the request stored for a connection.
func (r *Recorder) GetRequest(connectionID string, out interface{}) error {
	return r.getAttached(reqAttachKeyPrefix, connectionID, out)
}

func (r *Recorder) saveAttached(prefix, connectionID string, msg interface{}) error {
	bytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("save attached message: %w", err)
	}

	if err := r.store.Put(fmt.Sprintf(prefix, connectionID), bytes); err != nil {
		return fmt.Errorf("save attached message: %w", err)
	}

	return nil
}

func (r *Recorder) getAttached(prefix, connectionID string, out interface{}) error {
	bytes, err := r.store.Get(fmt.Sprintf(prefix, connectionID))
	if err != nil {
		return fmt.Errorf("get attached message: %w", err)
	}

	if err := json.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("get attached message: %w", err)
	}

	return nil
}

func computeHash(bytes []byte) (string, error) {
	if len(bytes) == 0 {
		return "", errors.New("compute hash: empty bytes")
	}

	return fmt.Sprintf("%x", sha256.Sum256(bytes)), nil
}
