/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"fmt"

	"github.com/emergentid/didx/pkg/store/connection"
)

// state allows the framework to transition between connection states.
// Records advance along invited -> requested -> responded -> completed, with
// invited and requested also allowed to abandon. completed and abandoned are
// terminal.
type state interface {
	Name() string
	CanTransitionTo(next state) bool
}

// stateFromName returns the state for a record's stored name. A record that
// has not been persisted yet has the empty name.
func stateFromName(name string) (state, error) {
	switch name {
	case "":
		return &null{}, nil
	case connection.StateInvited:
		return &invited{}, nil
	case connection.StateRequested:
		return &requested{}, nil
	case connection.StateResponded:
		return &responded{}, nil
	case connection.StateCompleted:
		return &completed{}, nil
	case connection.StateAbandoned:
		return &abandoned{}, nil
	default:
		return nil, fmt.Errorf("unknown connection state: %s", name)
	}
}

// null is the state of a record before its first persisted state. Records
// enter the protocol either from an invitation or directly from a request.
type null struct{}

func (s *null) Name() string { return "" }

func (s *null) CanTransitionTo(next state) bool {
	return next.Name() == connection.StateInvited || next.Name() == connection.StateRequested
}

type invited struct{}

func (s *invited) Name() string { return connection.StateInvited }

func (s *invited) CanTransitionTo(next state) bool {
	return next.Name() == connection.StateRequested || next.Name() == connection.StateAbandoned
}

type requested struct{}

func (s *requested) Name() string { return connection.StateRequested }

func (s *requested) CanTransitionTo(next state) bool {
	return next.Name() == connection.StateResponded || next.Name() == connection.StateAbandoned
}

type responded struct{}

func (s *responded) Name() string { return connection.StateResponded }

func (s *responded) CanTransitionTo(next state) bool {
	return next.Name() == connection.StateCompleted
}

type completed struct{}

func (s *completed) Name() string { return connection.StateCompleted }

func (s *completed) CanTransitionTo(next state) bool { return false }

type abandoned struct{}

func (s *abandoned) Name() string { return connection.StateAbandoned }

func (s *abandoned) CanTransitionTo(next state) bool { return false }
