package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesExecutable(t *testing.T) {
	tests := []struct {
		name     string
		procName string
		target   string
		want     bool
	}{
		{"exact", "game.bin", "game.bin", true},
		{"case insensitive", "Game.BIN", "game.bin", true},
		{"exe extension on target", "witcher3", "Witcher3.exe", true},
		{"exe extension on process", "witcher3.exe", "witcher3", true},
		{"exe extension both sides", "Witcher3.EXE", "witcher3.exe", true},
		{"different name", "steam", "game.bin", false},
		{"empty process name", "", "game.bin", false},
		{"empty target", "game.bin", "", false},
		{"comm truncated at 15", "factorio-headle", "factorio-headless", true},
		{"short name is not a prefix match", "fact", "factorio-headless", false},
		{"non-exe extension kept", "game.sh", "game", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesExecutable(tt.procName, tt.target))
		})
	}
}

func TestIsRunningRejectsInvalidPath(t *testing.T) {
	p := NewProcessProbe()
	for _, path := range []string{"", ".", "/"} {
		_, err := p.IsRunning(context.Background(), path)
		assert.Error(t, err, "path %q", path)
	}
}

func TestIsRunningHonorsCancelledContext(t *testing.T) {
	p := NewProcessProbe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.IsRunning(ctx, "/opt/games/game.bin")
	assert.Error(t, err)
}

func TestParseIdleMillis(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1500\n", 1500 * time.Millisecond, false},
		{"0", 0, false},
		{"  42  ", 42 * time.Millisecond, false},
		{"-5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseIdleMillis(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseHIDIdleNanos(t *testing.T) {
	ioregOut := `+-o IOHIDSystem  <class IOHIDSystem, id 0x100000456>
    {
      "HIDIdleTime" = 531993672
      "HIDParameters" = {"UseKeyswitch"=1}
    }
`
	d, err := parseHIDIdleNanos(ioregOut)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(531993672), d)

	_, err = parseHIDIdleNanos("no relevant line here")
	assert.Error(t, err)

	_, err = parseHIDIdleNanos(`"HIDIdleTime" = not-a-number`)
	assert.Error(t, err)

	_, err = parseHIDIdleNanos(`"HIDIdleTime" = -1`)
	assert.Error(t, err)
}
