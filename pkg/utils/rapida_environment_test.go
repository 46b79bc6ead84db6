package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRapidaEnvironment_Get(t *testing.T) {
	assert.Equal(t, "production", PRODUCTION.Get())
	assert.Equal(t, "development", DEVELOPMENT.Get())
}

func TestFromEnvironmentStr(t *testing.T) {
	cases := map[string]RapidaEnvironment{
		"production":     PRODUCTION,
		"PRODUCTION":     PRODUCTION,
		"  Production\n": PRODUCTION,
		"development":    DEVELOPMENT,
		"staging":        DEVELOPMENT,
		"":               DEVELOPMENT,
	}
	for input, want := range cases {
		assert.Equal(t, want, FromEnvironmentStr(input), "input %q", input)
	}
}
