package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomManagerJoinCreatesRoom(t *testing.T) {
	rm := NewRoomManager()
	c := &Client{ID: "c1"}

	room := rm.Join("lobby", c)
	require.NotNil(t, room)
	assert.Equal(t, "lobby", room.Name)
	assert.Len(t, room.snapshot(), 1)
	assert.Same(t, room, rm.Get("lobby"))
}

func TestRoomManagerLeaveRemovesMember(t *testing.T) {
	rm := NewRoomManager()
	c := &Client{ID: "c1"}
	rm.Join("lobby", c)

	rm.Leave("lobby", "c1")
	assert.True(t, rm.Get("lobby").isEmpty())
}

func TestRoomManagerLeaveAllRemovesFromEveryRoom(t *testing.T) {
	rm := NewRoomManager()
	c := &Client{ID: "c1"}
	rm.Join("a", c)
	rm.Join("b", c)

	rm.LeaveAll(c)
	assert.True(t, rm.Get("a").isEmpty())
	assert.True(t, rm.Get("b").isEmpty())
}

func TestRoomManagerGetReturnsNilForUnknownRoom(t *testing.T) {
	rm := NewRoomManager()
	assert.Nil(t, rm.Get("nonexistent"))
}

func TestRoomManagerReapEmptyRemovesIdleEmptyRooms(t *testing.T) {
	rm := NewRoomManager()
	c := &Client{ID: "c1"}
	rm.Join("idle", c)
	rm.Leave("idle", "c1")

	reaped := rm.ReapEmpty(0)
	assert.Equal(t, 1, reaped)
	assert.Nil(t, rm.Get("idle"))
}

func TestRoomManagerReapEmptySparesActiveRooms(t *testing.T) {
	rm := NewRoomManager()
	c := &Client{ID: "c1"}
	rm.Join("active", c)

	reaped := rm.ReapEmpty(0)
	assert.Equal(t, 0, reaped)
	assert.NotNil(t, rm.Get("active"))
}

func TestRoomManagerReapEmptyRespectsGracePeriod(t *testing.T) {
	rm := NewRoomManager()
	c := &Client{ID: "c1"}
	rm.Join("fresh", c)
	rm.Leave("fresh", "c1")

	reaped := rm.ReapEmpty(time.Hour)
	assert.Equal(t, 0, reaped, "a just-emptied room should survive a long grace period")
}
