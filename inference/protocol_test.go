// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inference

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractStateBlock(t *testing.T) {
	tests := []struct {
		name   string
		output string
		block  string
		ok     bool
	}{
		{
			name:   "simple pair",
			output: "narrative\n" + BeginStateMarker + "\nPlayer_Location: cave\n" + EndStateMarker + "\ntrailing",
			block:  "Player_Location: cave",
			ok:     true,
		},
		{
			name: "last begin wins",
			output: BeginStateMarker + "\nstale\n" + EndStateMarker + "\n" +
				BeginStateMarker + "\nPlayer_Location: tunnel\n" + EndStateMarker,
			block: "Player_Location: tunnel",
			ok:    true,
		},
		{
			name:   "missing end marker",
			output: BeginStateMarker + "\nPlayer_Location: cave",
		},
		{
			name:   "missing begin marker",
			output: "Player_Location: cave\n" + EndStateMarker,
		},
		{
			name:   "no markers",
			output: "the model rambled instead",
		},
		{
			name:   "empty block",
			output: BeginStateMarker + "\n \n" + EndStateMarker,
			block:  "",
			ok:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, ok := ExtractStateBlock(tt.output)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.block, block)
		})
	}
}
