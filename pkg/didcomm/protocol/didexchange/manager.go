/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didexchange implements the DID exchange protocol: two parties
// exchange DIDs and DID documents, mutually authenticate through signed
// attachments anchored on the invitation key, and arrive at a completed
// pairwise connection.
package didexchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/emergentid/didx/pkg/didcomm/dispatcher"
	"github.com/emergentid/didx/pkg/didcomm/protocol/decorator"
	"github.com/emergentid/didx/pkg/didcomm/protocol/mediator"
	"github.com/emergentid/didx/pkg/didcomm/transport"
	"github.com/emergentid/didx/pkg/doc/did"
	"github.com/emergentid/didx/pkg/kms"
	"github.com/emergentid/didx/pkg/store/connection"
	"github.com/emergentid/didx/pkg/vdr/fingerprint"
	"github.com/emergentid/didx/pkg/vdr/peer"
)

var logger = log.New("didx/didexchange")

// Config carries the agent-wide settings consulted by the protocol. It is
// immutable after construction.
type Config struct {
	// DefaultEndpoint is the agent's primary inbound endpoint.
	DefaultEndpoint string
	// AdditionalEndpoints are advertised after the default one.
	AdditionalEndpoints []string
	// DefaultLabel names this agent in outbound requests.
	DefaultLabel string
	// EmitDIDPeer2 emits did:peer:2 identifiers for new local DIDs.
	EmitDIDPeer2 bool
	// EmitDIDPeer4 emits did:peer:4 identifiers for new local DIDs. Takes
	// precedence over EmitDIDPeer2 when both are set.
	EmitDIDPeer4 bool
	// PublicInvites allows inbound requests addressed to a public DID.
	PublicInvites bool
	// RequestsThroughPublicDID allows inbound requests against a public DID
	// with no prior invitation record.
	RequestsThroughPublicDID bool
	// AutoAcceptInvites advances received invitations without operator action.
	AutoAcceptInvites bool
	// AutoAcceptRequests is the acceptance default for received requests.
	AutoAcceptRequests bool
	// AutoDiscloseFeatures proactively discloses features on completion.
	AutoDiscloseFeatures bool
}

// Provider supplies the capabilities the protocol consumes.
type Provider interface {
	StorageProvider() storage.Provider
	Wallet() kms.Wallet
	ServiceResolver() did.ServiceResolver
	RouteManager() mediator.RouteManager
	OutboundDispatcher() dispatcher.Outbound
}

// OOBCompleter is notified when an inbound request satisfies the
// out-of-band invitation it answers.
type OOBCompleter interface {
	InvitationSatisfied(invitationMsgID, connectionID string)
}

// FeatureDiscloser proactively discloses this agent's supported features to
// the peer of a newly completed connection.
type FeatureDiscloser interface {
	ProactiveDisclose(connectionID string) error
}

// Manager drives the DID exchange state machine. All operations are
// terminal for the message being processed: on error no record state is
// persisted past the point of failure.
type Manager struct {
	cfg               Config
	recorder          *connection.Recorder
	wallet            kms.Wallet
	resolver          did.ServiceResolver
	routeMgr          mediator.RouteManager
	outbound          dispatcher.Outbound
	oob               OOBCompleter
	discloser         FeatureDiscloser
	mediationRequests mediator.RequestBuilder
}

// New returns a Manager wired to the provider's capabilities.
func New(prov Provider, cfg Config) (*Manager, error) {
	recorder, err := connection.NewRecorder(prov)
	if err != nil {
		return nil, fmt.Errorf("create didexchange manager: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		recorder: recorder,
		wallet:   prov.Wallet(),
		resolver: prov.ServiceResolver(),
		routeMgr: prov.RouteManager(),
		outbound: prov.OutboundDispatcher(),
	}, nil
}

// SetOOBCompleter registers the out-of-band cleanup hook.
func (m *Manager) SetOOBCompleter(c OOBCompleter) { m.oob = c }

// SetFeatureDiscloser registers the feature disclosure hook.
func (m *Manager) SetFeatureDiscloser(d FeatureDiscloser) { m.discloser = d }

// SetMediationRequestBuilder registers the builder used for the "send
// mediation request after connection" side effect.
func (m *Manager) SetMediationRequestBuilder(b mediator.RequestBuilder) { m.mediationRequests = b }

// InvitationOptions tunes invitation intake.
type InvitationOptions struct {
	// TheirPublicDID addresses the inviter by public DID instead of, or in
	// addition to, the invitation's service blocks.
	TheirPublicDID string
	// AutoAccept overrides the agent-wide auto-accept default.
	AutoAccept *bool
	Alias      string
	// MediationID pins a specific mediation grant to the connection.
	MediationID string
}

// RequestOptions tunes request construction.
type RequestOptions struct {
	Label    string
	Goal     string
	GoalCode string
	// Endpoint overrides the configured endpoints for this request.
	Endpoint    string
	MediationID string
	// UsePublicDID addresses the peer from this agent's public DID instead
	// of a fresh local one.
	UsePublicDID bool
	Alias        string
	// AutoAccept overrides the agent-wide auto-accept default; only
	// consulted by CreateRequestImplicit, which creates the record.
	AutoAccept *bool
}

// ReceiveRequestOptions tunes request receipt.
type ReceiveRequestOptions struct {
	Alias string
	// AutoAccept overrides the acceptance default for a connection created
	// from an unsolicited public-DID request.
	AutoAccept *bool
}

// ReceiveInvitation creates a connection record from an out-of-band
// invitation, or from a bare public DID when invitation is nil. The record
// starts in the invited state; in auto-accept mode a request is constructed
// and dispatched immediately, advancing the record to requested only after
// a successful dispatch.
func (m *Manager) ReceiveInvitation(invitation *Invitation, opts *InvitationOptions) (*connection.Record, error) {
	if opts == nil {
		opts = &InvitationOptions{}
	}

	if invitation == nil && opts.TheirPublicDID == "" {
		return nil, fmt.Errorf("%w: no invitation and no public DID", ErrInvalidInvitation)
	}

	record := &connection.Record{
		ConnectionID:   uuid.New().String(),
		State:          connection.StateInvited,
		TheirRole:      connection.RoleResponder,
		Accept:         resolveAccept(opts.AutoAccept, m.cfg.AutoAcceptInvites),
		TheirPublicDID: opts.TheirPublicDID,
		Alias:          opts.Alias,
	}

	if invitation != nil {
		if err := m.intakeInvitation(record, invitation); err != nil {
			return nil, err
		}
	}

	if err := m.recorder.SaveRecord(record); err != nil {
		return nil, fmt.Errorf("receive invitation: %w", err)
	}

	if invitation != nil {
		if err := m.recorder.SaveInvitation(record.ConnectionID, invitation); err != nil {
			return nil, fmt.Errorf("receive invitation: %w", err)
		}
	}

	// a public-DID invitation names no key up front; the trust anchor is
	// the first recipient key of the DID's resolved services
	if record.InvitationKey == "" && record.TheirPublicDID != "" {
		if err := m.backfillInvitationKey(record); err != nil {
			return nil, err
		}
	}

	if opts.MediationID != "" {
		if err := m.routeMgr.SaveMediatorForConnection(record.ConnectionID, opts.MediationID); err != nil {
			return nil, fmt.Errorf("receive invitation: %w", err)
		}
	}

	if record.Accept == connection.AcceptAuto {
		if err := m.autoRequest(record, opts.MediationID); err != nil {
			return nil, err
		}
	}

	return record, nil
}

func (m *Manager) intakeInvitation(record *connection.Record, invitation *Invitation) error {
	blocks, err := invitation.ServiceBlocks()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInvitation, err)
	}

	if len(blocks) == 0 {
		return fmt.Errorf("%w: no service blocks", ErrInvalidInvitation)
	}

	// an inline block needs both recipient keys and an endpoint; either one
	// missing leaves no usable trust anchor or return path
	for _, block := range blocks {
		if block.DID == "" && (len(block.RecipientKeys) == 0 || block.ServiceEndpoint == "") {
			return fmt.Errorf("%w: service block needs recipient keys and an endpoint", ErrInvalidInvitation)
		}
	}

	record.InvitationMsgID = invitation.ID
	record.TheirLabel = invitation.Label

	first := blocks[0]

	switch {
	case first.DID != "":
		if record.TheirPublicDID == "" {
			record.TheirPublicDID = first.DID
		}
	case len(first.RecipientKeys) > 0:
		key, err := fingerprint.KeyB58FromDIDKey(first.RecipientKeys[0])
		if err != nil {
			return fmt.Errorf("%w: bad recipient key: %s", ErrInvalidInvitation, err)
		}

		record.InvitationKey = key
	}

	return nil
}

func (m *Manager) backfillInvitationKey(record *connection.Record) error {
	services, err := m.resolver.ResolveDIDCommServices(record.TheirPublicDID)
	if err != nil {
		return fmt.Errorf("resolve inviter services: %w", err)
	}

	if len(services) == 0 || len(services[0].RecipientKeys) == 0 {
		return nil
	}

	key, err := fingerprint.KeyB58FromDIDKey(services[0].RecipientKeys[0])
	if err != nil {
		return fmt.Errorf("resolve inviter services: %w", err)
	}

	record.InvitationKey = key

	return m.recorder.SaveRecord(record)
}

func (m *Manager) autoRequest(record *connection.Record, mediationID string) error {
	mediationRecords, err := m.routeMgr.MediationRecordsForConnection(record.ConnectionID, mediationID)
	if err != nil {
		return fmt.Errorf("resolve mediation records: %w", err)
	}

	request, err := m.buildRequest(record, &RequestOptions{MediationID: mediationID}, mediationRecords)
	if err != nil {
		return err
	}

	// the record advances to requested only once dispatch succeeded
	if err := m.outbound.SendReply(request, record.ConnectionID); err != nil {
		return fmt.Errorf("dispatch request: %w", err)
	}

	return m.finishRequest(record, mediationRecords)
}

// CreateRequest constructs the connection request for a record created from
// an invitation or public DID, advances it to requested and registers
// invitee routing. The caller dispatches the returned message.
func (m *Manager) CreateRequest(record *connection.Record, opts *RequestOptions) (*Request, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	mediationRecords, err := m.routeMgr.MediationRecordsForConnection(record.ConnectionID, opts.MediationID)
	if err != nil {
		return nil, fmt.Errorf("resolve mediation records: %w", err)
	}

	request, err := m.buildRequest(record, opts, mediationRecords)
	if err != nil {
		return nil, err
	}

	if err := m.finishRequest(record, mediationRecords); err != nil {
		return nil, err
	}

	return request, nil
}

// CreateRequestImplicit starts an exchange against a public DID with no
// prior invitation. With UsePublicDID it refuses a self-connection and an
// already-connected DID pair with ErrDuplicateConnection.
func (m *Manager) CreateRequestImplicit(theirPublicDID string, opts *RequestOptions) (*connection.Record, *Request, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	myDID := ""

	if opts.UsePublicDID {
		handle, err := m.wallet.GetPublicKey()
		if err != nil {
			return nil, nil, fmt.Errorf("no public DID configured: %w", err)
		}

		myDID = handle.DID

		if qualifyDID(myDID) == qualifyDID(theirPublicDID) {
			return nil, nil, fmt.Errorf("%w: cannot connect to self", ErrDuplicateConnection)
		}

		if _, err := m.recorder.GetRecordByDIDs(myDID, theirPublicDID); err == nil {
			return nil, nil, fmt.Errorf("%w: already connected to %s", ErrDuplicateConnection, theirPublicDID)
		} else if !errors.Is(err, storage.ErrDataNotFound) {
			return nil, nil, err
		}
	}

	record := &connection.Record{
		ConnectionID:   uuid.New().String(),
		TheirRole:      connection.RoleResponder,
		Accept:         resolveAccept(opts.AutoAccept, m.cfg.AutoAcceptInvites),
		TheirPublicDID: theirPublicDID,
		Alias:          opts.Alias,
		MyDID:          myDID,
	}

	request, err := m.CreateRequest(record, opts)
	if err != nil {
		return nil, nil, err
	}

	return record, request, nil
}

func (m *Manager) buildRequest(record *connection.Record, opts *RequestOptions,
	mediationRecords []mediator.MediationRecord) (*Request, error) {
	endpoints, routingKeys := m.effectiveEndpoints(opts.Endpoint, mediationRecords)

	if record.MyDID == "" {
		if err := m.assignLocalDID(record, endpoints, routingKeys,
			m.cfg.EmitDIDPeer4, m.cfg.EmitDIDPeer2, opts.UsePublicDID); err != nil {
			return nil, err
		}
	}

	label := opts.Label
	if label == "" {
		label = m.cfg.DefaultLabel
	}

	request := &Request{
		Type:     RequestMsgType,
		ID:       uuid.New().String(),
		Label:    label,
		Goal:     opts.Goal,
		GoalCode: opts.GoalCode,
		DID:      qualifyDID(record.MyDID),
	}

	pthid := record.InvitationMsgID
	if pthid == "" {
		// request without invitation threads to the peer's resolved service
		services, err := m.resolver.ResolveDIDCommServices(record.TheirPublicDID)
		if err != nil {
			return nil, fmt.Errorf("resolve peer services: %w", err)
		}

		if len(services) == 0 {
			return nil, fmt.Errorf("no didcomm services on %s", record.TheirPublicDID)
		}

		pthid = services[0].ID
	}

	request.Thread = &decorator.Thread{ID: request.ID, PID: pthid}

	// peer and public DIDs are self-describing or externally resolvable;
	// only a classic DID ships its document, signed with its own key
	if !strings.HasPrefix(record.MyDID, "did:") && !opts.UsePublicDID {
		attach, err := m.signedDocAttachment(record, endpoints, routingKeys, "")
		if err != nil {
			return nil, err
		}

		request.DocAttach = attach
	}

	record.RequestID = request.ID

	return request, nil
}

func (m *Manager) finishRequest(record *connection.Record, mediationRecords []mediator.MediationRecord) error {
	if err := m.updateState(record, connection.StateRequested); err != nil {
		return err
	}

	if err := m.routeMgr.RouteAsInvitee(record.ConnectionID, mediationRecords); err != nil {
		return fmt.Errorf("register invitee routing: %w", err)
	}

	return nil
}

// ReceiveRequest handles an inbound connection request. Requests addressed
// to a pairwise invitation key resolve their invitation record; requests
// addressed to a public DID are policy-gated and may create a fresh record.
func (m *Manager) ReceiveRequest(request *Request, receipt *transport.Receipt, opts *ReceiveRequestOptions) (*connection.Record, error) {
	if opts == nil {
		opts = &ReceiveRequestOptions{}
	}

	if receipt == nil {
		receipt = &transport.Receipt{}
	}

	var record *connection.Record

	if receipt.RecipientVerKey != "" {
		rec, err := m.recorder.GetRecordByInvitationKey(receipt.RecipientVerKey, connection.RoleRequester)
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("%w: recipient key %s", ErrNoInvitationFound, receipt.RecipientVerKey)
		}

		if err != nil {
			return nil, err
		}

		record = rec
	} else {
		if !m.cfg.PublicInvites {
			return nil, fmt.Errorf("%w: public invites", ErrNotEnabled)
		}

		handle, err := m.wallet.GetLocalKey(receipt.RecipientDID)
		if err != nil {
			return nil, fmt.Errorf("resolve recipient DID %s: %w", receipt.RecipientDID, err)
		}

		if !handle.Posture.IsPublic() {
			return nil, fmt.Errorf("%w: %s", ErrNotPublic, receipt.RecipientDID)
		}

		if request.Thread != nil && request.Thread.PID != "" {
			rec, err := m.recorder.GetRecordByInvitationMsgID(request.Thread.PID, connection.RoleRequester)
			if err == nil {
				record = rec
			} else if !errors.Is(err, storage.ErrDataNotFound) {
				return nil, err
			}
		}
	}

	// the requester's claimed DID is validated before any record mutation
	if request.DocAttach != nil {
		doc, err := m.verifyDIDDoc(request.DocAttach, "")
		if err != nil {
			return nil, reportable(err, ReasonRequestNotAccepted)
		}

		if qualifyDID(doc.ID) != qualifyDID(request.DID) {
			return nil, reportable(fmt.Errorf("%w: document %s, request %s",
				ErrDIDMismatch, doc.ID, request.DID), ReasonRequestNotAccepted)
		}
	} else if request.DID == "" {
		return nil, reportable(errors.New("connection request carries no DID"), ReasonRequestNotAccepted)
	}

	switch {
	case record == nil:
		if !m.cfg.RequestsThroughPublicDID {
			return nil, fmt.Errorf("%w: unsolicited public DID requests", ErrNotEnabled)
		}

		// local DID creation is deferred to response construction
		record = &connection.Record{
			ConnectionID: uuid.New().String(),
			TheirRole:    connection.RoleRequester,
			Accept:       resolveAccept(opts.AutoAccept, m.cfg.AutoAcceptRequests),
		}
	case record.MultiUse:
		fork, err := m.forkMultiUse(record)
		if err != nil {
			return nil, err
		}

		record = fork
	}

	record.TheirDID = request.DID
	record.TheirLabel = request.Label
	record.RequestID = request.ID

	if opts.Alias != "" {
		record.Alias = opts.Alias
	}

	if err := m.updateState(record, connection.StateRequested); err != nil {
		return nil, err
	}

	if err := m.recorder.SaveRequest(record.ConnectionID, request); err != nil {
		return nil, fmt.Errorf("receive request: %w", err)
	}

	if m.oob != nil && record.InvitationMsgID != "" {
		m.oob.InvitationSatisfied(record.InvitationMsgID, record.ConnectionID)
	}

	return record, nil
}

// forkMultiUse spawns an independent connection from a multi-use invitation
// record. The fork keeps the invitation key as its trust anchor and gets a
// fresh local DID; the originating record is never advanced.
func (m *Manager) forkMultiUse(original *connection.Record) (*connection.Record, error) {
	handle, err := m.wallet.CreateLocalKey(kms.MethodSov, kms.KeyTypeEd25519)
	if err != nil {
		return nil, fmt.Errorf("fork multi-use invitation: %w", err)
	}

	fork := &connection.Record{
		ConnectionID:    uuid.New().String(),
		TheirRole:       original.TheirRole,
		Accept:          original.Accept,
		InvitationKey:   original.InvitationKey,
		InvitationMsgID: original.InvitationMsgID,
		MyDID:           handle.DID,
	}

	if err := m.recorder.SaveRecord(fork); err != nil {
		return nil, fmt.Errorf("fork multi-use invitation: %w", err)
	}

	// metadata transfers once the fork is saved
	meta, err := m.recorder.MetadataAll(original.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("fork multi-use invitation: %w", err)
	}

	for key, value := range meta {
		if err := m.recorder.SetMetadata(fork.ConnectionID, key, value); err != nil {
			return nil, fmt.Errorf("fork multi-use invitation: %w", err)
		}
	}

	logger.Debugf("forked connection %s from multi-use invitation %s",
		fork.ConnectionID, original.ConnectionID)

	return fork, nil
}

// ResponseOptions tunes response construction.
type ResponseOptions struct {
	Endpoint     string
	MediationID  string
	UsePublicDID bool
}

// CreateResponse constructs the connection response for a record in the
// requested state and advances it to responded. Peer and public DID
// strategies emit a signed DID-rotation attachment; the classic strategy
// ships a full DID document. Both are signed with the invitation key.
func (m *Manager) CreateResponse(record *connection.Record, opts *ResponseOptions) (*Response, error) {
	if opts == nil {
		opts = &ResponseOptions{}
	}

	if record.State != connection.StateRequested {
		return nil, fmt.Errorf("%w: create response requires %s, record is %q",
			ErrInvalidState, connection.StateRequested, record.State)
	}

	request := &Request{}
	if err := m.recorder.GetRequest(record.ConnectionID, request); err != nil {
		return nil, fmt.Errorf("create response: %w", err)
	}

	mediationRecords, err := m.routeMgr.MediationRecordsForConnection(record.ConnectionID, opts.MediationID)
	if err != nil {
		return nil, fmt.Errorf("resolve mediation records: %w", err)
	}

	endpoints, routingKeys := m.effectiveEndpoints(opts.Endpoint, mediationRecords)

	// the peer's DID scheme pulls the response onto the same scheme even
	// when not configured locally
	emitPeer4 := m.cfg.EmitDIDPeer4 || peer.IsLongForm(record.TheirDID) || peer.IsShortForm(record.TheirDID)
	emitPeer2 := !emitPeer4 && (m.cfg.EmitDIDPeer2 || strings.HasPrefix(record.TheirDID, peer.Prefix2))

	if record.MyDID == "" {
		if err := m.assignLocalDID(record, endpoints, routingKeys, emitPeer4, emitPeer2, opts.UsePublicDID); err != nil {
			return nil, err
		}
	}

	response := &Response{
		Type:   ResponseMsgType,
		ID:     uuid.New().String(),
		DID:    qualifyDID(record.MyDID),
		Thread: threadFromRequest(request),
	}

	if strings.HasPrefix(record.MyDID, "did:") || opts.UsePublicDID {
		if record.InvitationKey == "" {
			logger.Warnf("connection %s has no invitation key, responding without a signed rotation attachment",
				record.ConnectionID)
		} else {
			attach := decorator.NewAttachment([]byte(response.DID))
			if err := attach.Data.Sign(m.wallet, record.InvitationKey); err != nil {
				return nil, fmt.Errorf("sign rotation attachment: %w", err)
			}

			response.RotateAttach = attach
		}
	} else {
		if record.InvitationKey == "" {
			return nil, errors.New("create response: no invitation key to sign the DID document")
		}

		attach, err := m.signedDocAttachment(record, endpoints, routingKeys, record.InvitationKey)
		if err != nil {
			return nil, err
		}

		response.DocAttach = attach
	}

	if err := m.routeMgr.RouteAsInviter(record.ConnectionID, mediationRecords); err != nil {
		return nil, fmt.Errorf("register inviter routing: %w", err)
	}

	if err := m.updateState(record, connection.StateResponded); err != nil {
		return nil, err
	}

	if err := m.maybeSendMediationRequest(record); err != nil {
		return nil, err
	}

	return response, nil
}

// AcceptResponse validates an inbound connection response against the
// record's invitation key, commits both sides' DIDs to their short forms,
// dispatches a complete message and finishes the exchange.
func (m *Manager) AcceptResponse(response *Response, receipt *transport.Receipt) (*connection.Record, error) {
	if receipt == nil {
		receipt = &transport.Receipt{}
	}

	record, err := m.correlateResponse(response, receipt)
	if err != nil {
		return nil, err
	}

	if record.State != connection.StateRequested {
		return nil, reportable(fmt.Errorf("%w: accept response requires %s, record is %q",
			ErrInvalidState, connection.StateRequested, record.State), ReasonResponseNotAccepted)
	}

	if response.DID == "" {
		return nil, reportable(errors.New("connection response carries no DID"), ReasonResponseNotAccepted)
	}

	switch {
	case response.DocAttach != nil:
		doc, err := m.verifyDIDDoc(response.DocAttach, record.InvitationKey)
		if err != nil {
			return nil, reportable(err, ReasonResponseNotAccepted)
		}

		if qualifyDID(doc.ID) != qualifyDID(response.DID) {
			return nil, reportable(fmt.Errorf("%w: document %s, response %s",
				ErrDIDMismatch, doc.ID, response.DID), ReasonResponseNotAccepted)
		}
	case response.RotateAttach != nil:
		signedDID, err := m.verifyRotate(response.RotateAttach, record.InvitationKey)
		if err != nil {
			return nil, reportable(err, ReasonResponseNotAccepted)
		}

		if qualifyDID(signedDID) != qualifyDID(response.DID) {
			return nil, reportable(fmt.Errorf("%w: rotation %s, response %s",
				ErrDIDMismatch, signedDID, response.DID), ReasonResponseNotAccepted)
		}
	default:
		return nil, reportable(ErrMissingAttachment, ReasonResponseNotAccepted)
	}

	record.TheirDID = response.DID

	// the response proves the peer has seen our long form; both sides
	// commit to the compact identifiers from here on
	record.MyDID = peer.LongToShort(record.MyDID)
	record.TheirDID = peer.LongToShort(record.TheirDID)

	if err := m.updateState(record, connection.StateResponded); err != nil {
		return nil, err
	}

	if err := m.maybeSendMediationRequest(record); err != nil {
		return nil, err
	}

	thid := record.RequestID
	pthid := ""

	if response.Thread != nil {
		if response.Thread.ID != "" {
			thid = response.Thread.ID
		}

		pthid = response.Thread.PID
	}

	complete := &Complete{
		Type:   CompleteMsgType,
		ID:     uuid.New().String(),
		Thread: &decorator.Thread{ID: thid, PID: pthid},
	}

	if err := m.outbound.SendReply(complete, record.ConnectionID); err != nil {
		return nil, fmt.Errorf("dispatch complete: %w", err)
	}

	if err := m.updateState(record, connection.StateCompleted); err != nil {
		return nil, err
	}

	m.discloseFeatures(record)

	return record, nil
}

func (m *Manager) correlateResponse(response *Response, receipt *transport.Receipt) (*connection.Record, error) {
	if response.Thread != nil && response.Thread.ID != "" {
		record, err := m.recorder.GetRecordByRequestID(response.Thread.ID, connection.RoleResponder)
		if err == nil {
			return record, nil
		}

		if !errors.Is(err, storage.ErrDataNotFound) {
			return nil, err
		}
	}

	if receipt.RecipientDID != "" && receipt.SenderDID != "" {
		record, err := m.recorder.GetRecordByDIDs(receipt.RecipientDID, receipt.SenderDID)
		if err == nil {
			return record, nil
		}

		if !errors.Is(err, storage.ErrDataNotFound) {
			return nil, err
		}
	}

	return nil, reportable(ErrNoCorrespondingRequest, ReasonResponseNotAccepted)
}

// AcceptComplete finishes the exchange on the responder side when the
// requester acknowledges the response.
func (m *Manager) AcceptComplete(complete *Complete, receipt *transport.Receipt) (*connection.Record, error) {
	if complete.Thread == nil || complete.Thread.ID == "" {
		return nil, reportable(ErrNoCorrespondingRequest, ReasonCompleteNotAccepted)
	}

	record, err := m.recorder.GetRecordByRequestID(complete.Thread.ID, connection.RoleRequester)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, reportable(ErrNoCorrespondingRequest, ReasonCompleteNotAccepted)
	}

	if err != nil {
		return nil, err
	}

	record.MyDID = peer.LongToShort(record.MyDID)
	record.TheirDID = peer.LongToShort(record.TheirDID)

	if err := m.updateState(record, connection.StateCompleted); err != nil {
		return nil, err
	}

	m.discloseFeatures(record)

	return record, nil
}

// Reject abandons a connection still waiting on this agent's action: a
// received invitation or a received request. The returned problem report is
// not dispatched; that is the caller's responsibility.
func (m *Manager) Reject(record *connection.Record, reason string) (*ProblemReport, error) {
	var code string

	switch {
	case record.State == connection.StateInvited && record.TheirRole == connection.RoleResponder:
		code = ReasonInvitationNotAccepted
	case record.State == connection.StateRequested && record.TheirRole == connection.RoleRequester:
		code = ReasonRequestNotAccepted
	default:
		return nil, fmt.Errorf("%w: cannot reject connection in state %q", ErrInvalidState, record.State)
	}

	if reason == "" {
		reason = "connection rejected"
	}

	record.ErrorMsg = reason

	if err := m.updateState(record, connection.StateAbandoned); err != nil {
		return nil, err
	}

	thid := record.RequestID
	if thid == "" {
		thid = record.InvitationMsgID
	}

	return &ProblemReport{
		Type:        ProblemReportMsgType,
		ID:          uuid.New().String(),
		Description: &ReportDescription{Code: code, En: reason},
		Thread:      &decorator.Thread{ID: thid},
	}, nil
}

// ReceiveProblemReport abandons the connection named by an inbound problem
// report carrying a recognized reason code.
func (m *Manager) ReceiveProblemReport(record *connection.Record, report *ProblemReport) error {
	if report.Description == nil || report.Description.Code == "" {
		return fmt.Errorf("%w: missing description code", ErrInvalidReport)
	}

	if !isRecognizedReason(report.Description.Code) {
		return fmt.Errorf("%w: %s", ErrUnrecognizedReport, report.Description.Code)
	}

	record.ErrorMsg = report.Description.Code
	if report.Description.En != "" {
		record.ErrorMsg = report.Description.Code + ": " + report.Description.En
	}

	return m.updateState(record, connection.StateAbandoned)
}

// assignLocalDID creates the record's local DID for the selected strategy.
func (m *Manager) assignLocalDID(record *connection.Record, endpoints, routingKeys []string,
	emitPeer4, emitPeer2, usePublic bool) error {
	switch {
	case emitPeer4:
		if emitPeer2 || m.cfg.EmitDIDPeer2 {
			logger.Warnf("both did:peer:2 and did:peer:4 emission requested, using did:peer:4")
		}

		handle, err := m.wallet.CreateLocalKey(kms.MethodPeer, kms.KeyTypeEd25519)
		if err != nil {
			return fmt.Errorf("create local key: %w", err)
		}

		doc := did.BuildDoc("", handle.VerKey, endpoints, routingKeys)

		long, err := peer.CreateDIDPeer4(doc)
		if err != nil {
			return err
		}

		if err := m.wallet.SetDID(handle.VerKey, long); err != nil {
			return fmt.Errorf("assign peer DID: %w", err)
		}

		record.MyDID = long
	case emitPeer2:
		handle, err := m.wallet.CreateLocalKey(kms.MethodPeer, kms.KeyTypeEd25519)
		if err != nil {
			return fmt.Errorf("create local key: %w", err)
		}

		svc := &did.Service{Type: did.DIDCommServiceType, RoutingKeys: routingKeys}
		if len(endpoints) > 0 {
			svc.ServiceEndpoint = endpoints[0]
		}

		id, err := peer.CreateDIDPeer2(handle.VerKey, svc)
		if err != nil {
			return err
		}

		if err := m.wallet.SetDID(handle.VerKey, id); err != nil {
			return fmt.Errorf("assign peer DID: %w", err)
		}

		record.MyDID = id
	case usePublic:
		handle, err := m.wallet.GetPublicKey()
		if err != nil {
			return fmt.Errorf("no public DID configured: %w", err)
		}

		record.MyDID = handle.DID
	default:
		handle, err := m.wallet.CreateLocalKey(kms.MethodSov, kms.KeyTypeEd25519)
		if err != nil {
			return fmt.Errorf("create local key: %w", err)
		}

		record.MyDID = handle.DID
	}

	return nil
}

// signedDocAttachment builds the record's DID document and signs it with
// signWith, or with the document's own key when signWith is empty.
func (m *Manager) signedDocAttachment(record *connection.Record, endpoints, routingKeys []string,
	signWith string) (*decorator.Attachment, error) {
	handle, err := m.wallet.GetLocalKey(record.MyDID)
	if err != nil {
		return nil, fmt.Errorf("local key for %s: %w", record.MyDID, err)
	}

	doc := did.BuildDoc(record.MyDID, handle.VerKey, endpoints, routingKeys)

	docBytes, err := doc.JSONBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal DID document: %w", err)
	}

	if signWith == "" {
		signWith = handle.VerKey
	}

	attach := decorator.NewAttachment(docBytes)
	if err := attach.Data.Sign(m.wallet, signWith); err != nil {
		return nil, fmt.Errorf("sign DID document attachment: %w", err)
	}

	return attach, nil
}

func (m *Manager) verifyDIDDoc(attach *decorator.Attachment, expectedKey string) (*did.Doc, error) {
	if err := attach.Data.Verify(m.wallet, expectedKey); err != nil {
		if errors.Is(err, decorator.ErrNotSigned) {
			return nil, ErrUnsignedAttachment
		}

		return nil, fmt.Errorf("%w: %s", ErrSignatureInvalid, err)
	}

	payload, err := attach.Data.Fetch()
	if err != nil {
		return nil, fmt.Errorf("fetch DID document attachment: %w", err)
	}

	doc, err := did.ParseDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("parse attached DID document: %w", err)
	}

	return doc, nil
}

func (m *Manager) verifyRotate(attach *decorator.Attachment, expectedKey string) (string, error) {
	if err := attach.Data.Verify(m.wallet, expectedKey); err != nil {
		if errors.Is(err, decorator.ErrNotSigned) {
			return "", ErrUnsignedAttachment
		}

		return "", fmt.Errorf("%w: %s", ErrSignatureInvalid, err)
	}

	payload, err := attach.Data.Fetch()
	if err != nil {
		return "", fmt.Errorf("fetch rotation attachment: %w", err)
	}

	return string(payload), nil
}

// updateState validates the transition against the state machine, then
// persists the record. Nothing is saved on an invalid transition.
func (m *Manager) updateState(record *connection.Record, next string) error {
	current, err := stateFromName(record.State)
	if err != nil {
		return err
	}

	target, err := stateFromName(next)
	if err != nil {
		return err
	}

	if !current.CanTransitionTo(target) {
		return fmt.Errorf("%w: cannot transition from %q to %q", ErrInvalidState, record.State, next)
	}

	record.State = next

	if err := m.recorder.SaveRecord(record); err != nil {
		return fmt.Errorf("save connection %s: %w", record.ConnectionID, err)
	}

	logger.Debugf("connection %s moved to state %s", record.ConnectionID, next)

	return nil
}

// maybeSendMediationRequest dispatches a mediation request when the
// connection carries the pending-request metadata flag, then clears it.
func (m *Manager) maybeSendMediationRequest(record *connection.Record) error {
	var pending bool

	err := m.recorder.GetMetadata(record.ConnectionID, mediator.SendRequestAfterConnection, &pending)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if !pending {
		return nil
	}

	if m.mediationRequests == nil {
		logger.Warnf("connection %s has a pending mediation request but no builder is registered",
			record.ConnectionID)
		return nil
	}

	msg, err := m.mediationRequests.PrepareRequest(record.ConnectionID)
	if err != nil {
		return fmt.Errorf("prepare mediation request: %w", err)
	}

	if err := m.outbound.Send(msg, record.ConnectionID); err != nil {
		return fmt.Errorf("send mediation request: %w", err)
	}

	return m.recorder.SetMetadata(record.ConnectionID, mediator.SendRequestAfterConnection, false)
}

func (m *Manager) discloseFeatures(record *connection.Record) {
	if !m.cfg.AutoDiscloseFeatures || m.discloser == nil {
		return
	}

	if err := m.discloser.ProactiveDisclose(record.ConnectionID); err != nil {
		logger.Errorf("feature disclosure for connection %s failed: %v", record.ConnectionID, err)
	}
}

func (m *Manager) effectiveEndpoints(override string, mediationRecords []mediator.MediationRecord) ([]string, []string) {
	var endpoints []string

	if override != "" {
		endpoints = []string{override}
	} else {
		if m.cfg.DefaultEndpoint != "" {
			endpoints = append(endpoints, m.cfg.DefaultEndpoint)
		}

		endpoints = append(endpoints, m.cfg.AdditionalEndpoints...)
	}

	var routingKeys []string

	for _, mr := range mediationRecords {
		routingKeys = append(routingKeys, mr.RoutingKeys...)

		if mr.Endpoint != "" {
			endpoints = []string{mr.Endpoint}
		}
	}

	return endpoints, routingKeys
}

func threadFromRequest(request *Request) *decorator.Thread {
	thread := &decorator.Thread{ID: request.ID}

	if request.Thread != nil {
		if request.Thread.ID != "" {
			thread.ID = request.Thread.ID
		}

		thread.PID = request.Thread.PID
	}

	return thread
}

// qualifyDID normalizes legacy unqualified DIDs to their did:sov form
// before comparison or wire use.
func qualifyDID(d string) string {
	if d == "" || strings.HasPrefix(d, "did:") {
		return d
	}

	return "did:sov:" + d
}

func resolveAccept(explicit *bool, agentDefault bool) string {
	auto := agentDefault
	if explicit != nil {
		auto = *explicit
	}

	if auto {
		return connection.AcceptAuto
	}

	return connection.AcceptManual
}
