package relaystate_test

import (
	"testing"

	"github.com/contenox/relay/relaystate"
	"github.com/stretchr/testify/assert"
)

func TestUnit_MembershipJoinLeave(t *testing.T) {
	membership := relaystate.NewMembership()

	membership.Join("general", "c1")
	membership.Join("general", "c2")
	membership.Join("general", "c1") // idempotent

	assert.ElementsMatch(t, []string{"c1", "c2"}, membership.Members("general"))

	membership.Leave("general", "c1")
	assert.ElementsMatch(t, []string{"c2"}, membership.Members("general"))

	// Leaving an unknown room or member is a no-op.
	membership.Leave("general", "ghost")
	membership.Leave("lounge", "c2")
	assert.ElementsMatch(t, []string{"c2"}, membership.Members("general"))
}

func TestUnit_MembershipRoomsAreIsolated(t *testing.T) {
	membership := relaystate.NewMembership()

	membership.Join("general", "c1")
	membership.Join("random", "c2")

	assert.ElementsMatch(t, []string{"c1"}, membership.Members("general"))
	assert.ElementsMatch(t, []string{"c2"}, membership.Members("random"))
	assert.Empty(t, membership.Members("tech"))
}

func TestUnit_MembershipOccupancyPrunesEmptyRooms(t *testing.T) {
	membership := relaystate.NewMembership()

	membership.Join("general", "c1")
	membership.Join("general", "c2")
	membership.Join("random", "c3")

	assert.Equal(t, map[string]int{"general": 2, "random": 1}, membership.Occupancy())

	membership.Leave("random", "c3")
	assert.Equal(t, map[string]int{"general": 2}, membership.Occupancy())
}
