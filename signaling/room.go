package signaling

import (
	"sort"
	"strings"
)

// Room name prefixes. Call rooms and notification addresses live in disjoint
// namespaces on the same transport.
const (
	directRoomPrefix = "dm-"
	groupRoomPrefix  = "group-"
	notifyPrefix     = "notifications-"
)

// DirectRoomID derives the call room for a two-party call from the two
// participant identities. The identities are sorted lexicographically before
// joining, so both participants compute the same room without negotiating.
func DirectRoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return directRoomPrefix + strings.Join(ids, "-")
}

// GroupRoomID derives the call room for a group call from the group identity.
func GroupRoomID(groupID string) string {
	return groupRoomPrefix + groupID
}

// NotifyAddress derives the out-of-band notification room for a user.
// Call invitations and rejections are delivered here, never to call rooms,
// because the call room does not exist yet while ringing.
func NotifyAddress(userID string) string {
	return notifyPrefix + userID
}
