/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transport defines the envelope metadata handed to protocol
// services alongside inbound messages.
package transport

// Receipt carries the delivery context of an inbound message: who sent it
// and which of our keys it was addressed to, as recovered by the unpacking
// layer.
type Receipt struct {
	SenderDID       string
	RecipientDID    string
	RecipientVerKey string
}
