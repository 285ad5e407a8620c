package audiotarget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTargetIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  TargetIdentifier
	}{
		{"1234", TargetIdentifier{PID: 1234, HasPID: true}},
		{"spotify", TargetIdentifier{Name: "spotify"}},
		{"1234:spotify", TargetIdentifier{PID: 1234, HasPID: true, Name: "spotify"}},
		{":::", TargetIdentifier{}},
		{"", TargetIdentifier{}},
		{":spotify:", TargetIdentifier{Name: "spotify"}},
		{"1234:", TargetIdentifier{PID: 1234, HasPID: true}},
		{"  42  ", TargetIdentifier{PID: 42, HasPID: true}},
		{"0:system", TargetIdentifier{PID: 0, HasPID: true, Name: "system"}},
		{"12:app:helper", TargetIdentifier{PID: 12, HasPID: true, Name: "app:helper"}},
		{"Discord Canary", TargetIdentifier{Name: "Discord Canary"}},
		{"-5", TargetIdentifier{Name: "-5"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ResolveTargetIdentifier(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTargetIdentifierInvalid(t *testing.T) {
	for _, input := range []string{"abc:spotify", "99999999999999999999", "1x:app"} {
		_, err := ResolveTargetIdentifier(input)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, input)
	}
}

func TestTargetIdentifierString(t *testing.T) {
	assert.Equal(t, "1234:spotify", TargetIdentifier{PID: 1234, HasPID: true, Name: "spotify"}.String())
	assert.Equal(t, "1234", TargetIdentifier{PID: 1234, HasPID: true}.String())
	assert.Equal(t, "spotify", TargetIdentifier{Name: "spotify"}.String())
}
