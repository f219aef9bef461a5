/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher declares the outbound message delivery contract used
// by protocol services.
package dispatcher

// Outbound sends didcomm messages to the peer behind a connection. The
// packing and transport selection live behind this interface.
type Outbound interface {
	// Send packs msg for the connection's peer and delivers it.
	Send(msg interface{}, connectionID string) error

	// SendReply delivers msg on the same inbound channel the current
	// message arrived on when the transport supports it, falling back
	// to Send otherwise.
	SendReply(msg interface{}, connectionID string) error
}
