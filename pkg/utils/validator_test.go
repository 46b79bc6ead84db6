package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEmpty(t *testing.T) {
	for _, blank := range []string{"", "   ", "\t\n", " "} {
		assert.True(t, IsEmpty(blank), "%q", blank)
	}
	for _, text := range []string{"Alô?", " sim ", "."} {
		assert.False(t, IsEmpty(text), "%q", text)
	}
}
