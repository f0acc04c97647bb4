package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_TierFor(t *testing.T) {
	s, err := Parse("tierA:3,tierB:2", nil)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		tier, ok := s.TierFor(attempt)
		require.True(t, ok)
		assert.Equal(t, "tierA", tier, "attempt %d", attempt)
	}
	for attempt := 4; attempt <= 5; attempt++ {
		tier, ok := s.TierFor(attempt)
		require.True(t, ok)
		assert.Equal(t, "tierB", tier, "attempt %d", attempt)
	}

	_, ok := s.TierFor(6)
	assert.False(t, ok)
	_, ok = s.TierFor(0)
	assert.False(t, ok)

	assert.Equal(t, 5, s.MaxAttempts())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		known   []string
		want    []Tier
		wantErr bool
	}{
		{name: "single tier", spec: "sonnet:3", want: []Tier{{"sonnet", 3}}},
		{name: "whitespace", spec: " sonnet : 3 , opus:2 ", want: []Tier{{"sonnet", 3}, {"opus", 2}}},
		{name: "known tiers", spec: "haiku:1,opus:1", known: []string{"haiku", "sonnet", "opus"}, want: []Tier{{"haiku", 1}, {"opus", 1}}},
		{name: "empty", spec: "  ", wantErr: true},
		{name: "missing count", spec: "opus", wantErr: true},
		{name: "zero count", spec: "sonnet:0", wantErr: true},
		{name: "negative count", spec: "sonnet:-1", wantErr: true},
		{name: "not a number", spec: "sonnet:many", wantErr: true},
		{name: "missing name", spec: ":2", wantErr: true},
		{name: "trailing comma", spec: "sonnet:2,", wantErr: true},
		{name: "unknown tier", spec: "gpt:2", known: []string{"sonnet"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.spec, tt.known)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Tiers())
		})
	}
}

func TestSchedule_String(t *testing.T) {
	assert.Equal(t, "sonnet:3,opus:2", MustParse(" sonnet:3, opus:2").String())
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bad") })
	assert.True(t, Schedule{}.IsZero())
}
