package mock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGamesAreWellFormed(t *testing.T) {
	p := NewProbes(1)
	games := p.Games()
	require.NotEmpty(t, games)

	seen := make(map[string]bool)
	for _, g := range games {
		assert.NotEmpty(t, g.ID)
		assert.False(t, seen[g.ID], "duplicate id %s", g.ID)
		seen[g.ID] = true
		assert.True(t, filepath.IsAbs(g.ExePath))
	}
}

func TestProbesNeverError(t *testing.T) {
	p := NewProbes(1)
	ctx := context.Background()

	for _, g := range p.Games() {
		_, err := p.IsRunning(ctx, g.ExePath)
		assert.NoError(t, err)
	}
	_, err := p.IdleDuration(ctx)
	assert.NoError(t, err)
}

func TestStepEventuallyLaunchesAGame(t *testing.T) {
	p := NewProbes(42)
	ctx := context.Background()

	launched := func() bool {
		for _, g := range p.Games() {
			if running, _ := p.IsRunning(ctx, g.ExePath); running {
				return true
			}
		}
		return false
	}

	for i := 0; i < 200 && !launched(); i++ {
		p.step(15 * time.Second)
	}
	assert.True(t, launched(), "scripted library should launch something within 200 steps")
}
