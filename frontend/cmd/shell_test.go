package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jghoshh/fitquest/frontend/client"
)

func TestCommandSetsHaveUniqueNames(t *testing.T) {
	s := NewShell(client.New("http://localhost:8080", ""))
	for name, set := range map[string][]Command{"guest": s.guest, "player": s.player} {
		seen := map[string]bool{}
		for _, c := range append(append([]Command{}, set...), s.common...) {
			assert.False(t, seen[c.Name], "%s: duplicate command %q", name, c.Name)
			assert.NotNil(t, c.Func, c.Name)
			seen[c.Name] = true
		}
		assert.True(t, seen["help"], name)
		assert.True(t, seen["exit"], name)
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "'wallet' : Show your coin balance", Command{Name: "wallet", Desc: "Show your coin balance"}.String())
}
