package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0.2", want: 200_000_000},
		{in: "2.1", want: 2_100_000_000},
		{in: "1", want: 1_000_000_000},
		{in: " 0.05 ", want: 50_000_000},
		{in: "0.000000001", want: 1},
		{in: "0", want: 0},
		{in: "0.0000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1/2", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "+1", wantErr: true},
		{in: "1.", wantErr: true},
		{in: ".5", wantErr: true},
		{in: "0x10", wantErr: true},
		{in: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "0.2", FormatUnits(MustParseUnits("0.2")))
	assert.Equal(t, "2.1", FormatUnits(MustParseUnits("2.1")))
	assert.Equal(t, "3", FormatUnits(MustParseUnits("3")))
	assert.Equal(t, "0.000000001", FormatUnits(MustParseUnits("0.000000001")))
	assert.Equal(t, "0", FormatUnits(nil))
}

func TestMustParseUnitsPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseUnits("nope") })
}
