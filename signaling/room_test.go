package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectRoomID(t *testing.T) {
	// Both participants derive the same room regardless of argument order.
	assert.Equal(t, "dm-alice-bob", DirectRoomID("alice", "bob"))
	assert.Equal(t, "dm-alice-bob", DirectRoomID("bob", "alice"))

	// Distinct pairs get distinct rooms.
	assert.NotEqual(t, DirectRoomID("alice", "bob"), DirectRoomID("alice", "carol"))
}

func TestGroupRoomID(t *testing.T) {
	assert.Equal(t, "group-g1", GroupRoomID("g1"))
}

func TestNotifyAddress(t *testing.T) {
	assert.Equal(t, "notifications-alice", NotifyAddress("alice"))
	assert.NotEqual(t, NotifyAddress("alice"), DirectRoomID("alice", "alice"))
}
