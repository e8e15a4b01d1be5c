package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectionForNeutralBand(t *testing.T) {
	cases := []struct {
		score float64
		band  float64
		want  Direction
	}{
		{0.5, 0.1, DirectionUp},
		{-0.5, 0.1, DirectionDown},
		{0.05, 0.1, DirectionNeutral},
		{-0.05, 0.1, DirectionNeutral},
		{0.1, 0.1, DirectionNeutral},
		{0.11, 0.1, DirectionUp},
		{-0.11, 0.1, DirectionDown},
		{0.0, 0.1, DirectionNeutral},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DirectionFor(tc.score, tc.band), "score=%v band=%v", tc.score, tc.band)
	}
}
