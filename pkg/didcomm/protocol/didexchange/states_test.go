/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emergentid/didx/pkg/store/connection"
)

func TestStateTransitions(t *testing.T) {
	all := []string{
		"",
		connection.StateInvited,
		connection.StateRequested,
		connection.StateResponded,
		connection.StateCompleted,
		connection.StateAbandoned,
	}

	allowed := map[string][]string{
		"":                        {connection.StateInvited, connection.StateRequested},
		connection.StateInvited:   {connection.StateRequested, connection.StateAbandoned},
		connection.StateRequested: {connection.StateResponded, connection.StateAbandoned},
		connection.StateResponded: {connection.StateCompleted},
		connection.StateCompleted: {},
		connection.StateAbandoned: {},
	}

	for _, from := range all {
		current, err := stateFromName(from)
		require.NoError(t, err)
		require.Equal(t, from, current.Name())

		for _, to := range all {
			next, err := stateFromName(to)
			require.NoError(t, err)

			want := false
			for _, name := range allowed[from] {
				if name == to {
					want = true
				}
			}

			require.Equal(t, want, current.CanTransitionTo(next),
				"transition %q -> %q", from, to)
		}
	}
}

func TestStateFromName_Unknown(t *testing.T) {
	_, err := stateFromName("negotiating")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown connection state")
}
