package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "", want: Empty},
		{in: "1", want: Version{Major: 1}},
		{in: "1.2", want: Version{Major: 1, Minor: 2}},
		{in: "1.2.3", want: Version{Major: 1, Minor: 2, Micro: 3}},
		{in: "1.2.3.beta-1", want: Version{Major: 1, Minor: 2, Micro: 3, Qualifier: "beta-1"}},
		{in: "1.2.3.q.x", wantErr: true},
		{in: "1.a", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "v1.2", wantErr: true},
		{in: "1.2.3-beta", wantErr: true},
		{in: "1.2+build", wantErr: true},
		{in: "1..2", wantErr: true},
		{in: "1.2.3.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, MustParse("1.0.0").Compare(MustParse("1.0.1")))
	assert.Equal(t, 1, MustParse("2.0").Compare(MustParse("1.9.9")))
	assert.Equal(t, 0, MustParse("1").Compare(MustParse("1.0.0")))
	assert.True(t, MustParse("1.0.0").Less(MustParse("1.0.0.a")), "unqualified sorts first")
	assert.True(t, MustParse("1.0.0.a").Less(MustParse("1.0.0.b")))
	assert.True(t, MustParse("1.10").Compare(MustParse("1.9")) > 0, "numeric comparison")
}

func TestRange(t *testing.T) {
	r := MustParseRange("[1.0.0,2.0.0)")
	assert.True(t, r.Includes(MustParse("1.0.0")))
	assert.True(t, r.Includes(MustParse("1.9.9")))
	assert.False(t, r.Includes(MustParse("2.0.0")))
	assert.False(t, r.Includes(MustParse("0.9")))

	r = MustParseRange("(1.0,2.0]")
	assert.False(t, r.Includes(MustParse("1.0")))
	assert.True(t, r.Includes(MustParse("2.0")))

	r = MustParseRange("1.5")
	assert.True(t, r.Includes(MustParse("99")))
	assert.False(t, r.Includes(MustParse("1.4")))

	assert.True(t, Any.Includes(Empty))
	assert.True(t, Range{}.Includes(MustParse("0.0.0")), "zero value matches everything")
	assert.Equal(t, "[1.0.0,2.0.0)", MustParseRange("[1,2)").String())
}

func TestParseRangeErrors(t *testing.T) {
	for _, in := range []string{"[1.0", "[1,2,3)", "[2.0,1.0)", "[1.0,1.0)", "[x,2)"} {
		_, err := ParseRange(in)
		assert.ErrorIs(t, err, ErrInvalidRange, in)
	}
}

func TestTextRoundTrip(t *testing.T) {
	var v Version
	require.NoError(t, v.UnmarshalText([]byte("3.1.4.pi")))
	assert.Equal(t, "3.1.4.pi", v.String())

	var r Range
	require.NoError(t, r.UnmarshalText([]byte("[1,2]")))
	assert.True(t, r.Includes(MustParse("2")))
}
