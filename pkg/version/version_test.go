package version

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustVersion(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := ParseVersion(s)
	require.NoError(t, err)
	return v
}

func TestParseExact(t *testing.T) {
	t.Parallel()

	tests := []string{"18.17.1", "v18.17.1", " 20.5.0 ", "1.0.0-beta.2", "1.2.3+build.4"}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			t.Parallel()

			spec, err := Parse(input)
			require.NoError(t, err)
			assert.Equal(t, TypeExact, spec.Type)
		})
	}

	spec, err := Parse("v18.17.1")
	require.NoError(t, err)
	assert.Equal(t, "18.17.1", spec.String())
}

func TestParseBareVersionBecomesCaretRange(t *testing.T) {
	t.Parallel()

	spec, err := Parse("18")
	require.NoError(t, err)
	require.Equal(t, TypeSemver, spec.Type)
	assert.Equal(t, "^18", spec.String())
	assert.True(t, spec.Matches(mustVersion(t, "18.17.1")))
	assert.False(t, spec.Matches(mustVersion(t, "19.0.0")))

	spec, err = Parse("v18")
	require.NoError(t, err)
	require.Equal(t, TypeSemver, spec.Type)
	assert.True(t, spec.Matches(mustVersion(t, "18.17.1")))

	spec, err = Parse("18.17")
	require.NoError(t, err)
	require.Equal(t, TypeSemver, spec.Type)
	assert.True(t, spec.Matches(mustVersion(t, "18.18.0")))
	assert.False(t, spec.Matches(mustVersion(t, "17.9.0")))
}

func TestParseRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		match   string
		noMatch string
	}{
		{"^16.14", "16.20.0", "17.0.0"},
		{"~18.17.0", "18.17.9", "18.18.0"},
		{">=16 <18", "17.1.0", "18.0.0"},
		{"<=14.0.0", "14.0.0", "14.0.1"},
		{"=20.5.0", "20.5.0", "20.5.1"},
		{"^14 || ^16", "16.3.0", "15.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			spec, err := Parse(tt.input)
			require.NoError(t, err)
			require.Equal(t, TypeSemver, spec.Type)
			assert.True(t, spec.Matches(mustVersion(t, tt.match)), "expected %s to match %s", tt.input, tt.match)
			assert.False(t, spec.Matches(mustVersion(t, tt.noMatch)), "expected %s not to match %s", tt.input, tt.noMatch)
		})
	}
}

func TestParseTags(t *testing.T) {
	t.Parallel()

	spec, err := Parse("latest")
	require.NoError(t, err)
	assert.Equal(t, TypeTag, spec.Type)
	assert.Equal(t, TagLatest, spec.Tag)

	spec, err = Parse("LTS")
	require.NoError(t, err)
	assert.Equal(t, TagLts, spec.Tag)

	spec, err = Parse("beta")
	require.NoError(t, err)
	assert.Equal(t, TypeTag, spec.Type)
	assert.Equal(t, "beta", spec.Tag)
}

func TestParseEmptyIsNone(t *testing.T) {
	t.Parallel()

	spec, err := Parse("")
	require.NoError(t, err)
	assert.True(t, spec.IsNone())
	assert.Equal(t, "<default>", spec.String())
	assert.True(t, spec.Matches(mustVersion(t, "1.0.0")))
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Parse("!!!")
	assert.Error(t, err)
}

func TestLatestMatch(t *testing.T) {
	t.Parallel()

	candidates := []*semver.Version{
		mustVersion(t, "16.20.0"),
		mustVersion(t, "18.17.1"),
		mustVersion(t, "18.16.0"),
		mustVersion(t, "20.5.0"),
	}

	spec, err := Parse("^18")
	require.NoError(t, err)
	best := spec.LatestMatch(candidates)
	require.NotNil(t, best)
	assert.Equal(t, "18.17.1", best.String())

	spec, err = Parse("^99")
	require.NoError(t, err)
	assert.Nil(t, spec.LatestMatch(candidates))
}
