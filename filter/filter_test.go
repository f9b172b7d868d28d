package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilFilterMatchesEverything(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(nil))
	assert.Equal(t, "", f.String())
}

func TestMatch(t *testing.T) {
	f := MustCompile(`props["region"] == "eu" && props["service.ranking"] > 5`)

	assert.True(t, f.Match(map[string]any{"region": "eu", "service.ranking": 10}))
	assert.False(t, f.Match(map[string]any{"region": "us", "service.ranking": 10}))
	assert.False(t, f.Match(map[string]any{"region": "eu"}), "missing key is no match")
}

func TestMatchList(t *testing.T) {
	f := MustCompile(`"com.acme.Greeter" in props["objectClass"]`)
	assert.True(t, f.Match(map[string]any{"objectClass": []string{"x.Y", "com.acme.Greeter"}}))
	assert.False(t, f.Match(map[string]any{"objectClass": []string{"x.Y"}}))
}

func TestHas(t *testing.T) {
	f := MustCompile(`has(props.vendor)`)
	assert.True(t, f.Match(map[string]any{"vendor": "acme"}))
	assert.False(t, f.Match(map[string]any{}))
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(`props[`)
	assert.ErrorIs(t, err, ErrCompile)

	_, err = Compile(`"text"`)
	assert.ErrorIs(t, err, ErrNotBoolean)
}
