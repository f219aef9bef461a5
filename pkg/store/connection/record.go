/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection persists connection records and the indexes used to
// correlate protocol messages back to them.
package connection

// Namespace is the store name connection records live under.
const Namespace = "didexchange"

// Connection record states, in protocol order.
const (
	StateInvited   = "invited"
	StateRequested = "requested"
	StateResponded = "responded"
	StateCompleted = "completed"
	StateAbandoned = "abandoned"
)

// Accept modes for a connection.
const (
	// AcceptAuto advances the exchange without operator involvement.
	AcceptAuto = "auto"
	// AcceptManual waits for an explicit accept call at each step.
	AcceptManual = "manual"
)

// Role is the peer's role in the exchange.
type Role string

// Peer roles.
const (
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
)

// Tags returns the index tags a role is stored or looked up under. The
// first tag is the current encoding; the second is the legacy one kept for
// records written before the role names were aligned with RFC 23.
func (r Role) Tags() []string {
	if r == RoleRequester {
		return []string{string(RoleRequester), "invitee"}
	}

	return []string{string(RoleResponder), "inviter"}
}

// Record is a connection record tracking one exchange with a peer from
// invitation through completion.
type Record struct {
	ConnectionID    string
	State           string
	TheirRole       Role
	Accept          string
	InvitationKey   string
	InvitationMsgID string
	RequestID       string
	MyDID           string
	TheirDID        string
	TheirPublicDID  string
	TheirLabel      string
	Alias           string
	MultiUse        bool
	ErrorMsg        string
}
