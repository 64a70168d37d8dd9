// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sample

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds uint64
		want    string
	}{
		{0, "0s"},
		{45, "45s"},
		{59, "59s"},
		{60, "1m 0s"},
		{90, "1m 30s"},
		{3600, "1h 0m 0s"},
		{3661, "1h 1m 1s"},
		{90061, "25h 1m 1s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.seconds))
		})
	}
}

// parseDuration reads FormatDuration output back into seconds.
func parseDuration(t *testing.T, s string) uint64 {
	t.Helper()
	units := map[byte]uint64{'h': 3600, 'm': 60, 's': 1}
	var total uint64
	for _, part := range strings.Fields(s) {
		unit, ok := units[part[len(part)-1]]
		require.True(t, ok, "unknown unit in %q", s)
		n, err := strconv.ParseUint(part[:len(part)-1], 10, 64)
		require.NoError(t, err, "bad number in %q", s)
		total += n * unit
	}
	return total
}

func TestFormatDuration_Monotonic(t *testing.T) {
	var prev uint64
	for secs := uint64(0); secs <= 2*3600+120; secs++ {
		got := parseDuration(t, FormatDuration(secs))
		require.Equal(t, secs, got, "FormatDuration(%d) = %q", secs, FormatDuration(secs))
		require.GreaterOrEqual(t, got, prev, "FormatDuration(%d) decreased", secs)
		prev = got
	}
}

func TestIsGreeting(t *testing.T) {
	assert.True(t, isGreeting("HI there"))
	assert.True(t, isGreeting("well, hello."))
	assert.False(t, isGreeting("high five"))
	assert.False(t, isGreeting(""))
}
