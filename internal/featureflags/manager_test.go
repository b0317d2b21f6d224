package featureflags

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "u1"), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, "u1"), name)
	}
}

func TestEnabled_IgnoresMalformedPairs(t *testing.T) {
	m := NewManager(" A = ON , broken, =on, x=, y=maybe")

	assert.True(t, m.Enabled("a", "u1"))
	assert.False(t, m.Enabled("y", "u1"))
	assert.Len(t, m.Snapshot("u1"), 2)
}

func TestEnabled_PercentageRollout(t *testing.T) {
	m := NewManager("zero=0%,all=100%,half=50%,bad=abc%")

	assert.False(t, m.Enabled("zero", "u1"))
	assert.True(t, m.Enabled("all", "u1"))
	assert.False(t, m.Enabled("bad", "u1"))
	assert.False(t, m.Enabled("half", ""), "anonymous users are outside partial rollouts")

	enabled := 0
	for i := 0; i < 1000; i++ {
		id := "user-" + strconv.Itoa(i)
		first := m.Enabled("half", id)
		assert.Equal(t, first, m.Enabled("half", id), "rollout must be deterministic")
		if first {
			enabled++
		}
	}
	assert.InDelta(t, 500, enabled, 100)
}

func TestEnabled_NilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(FriendInviteNotifications, "u1"))
}
