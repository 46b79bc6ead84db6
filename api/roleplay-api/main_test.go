// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"testing"

	"github.com/rapidaai/roleplay/config"
	"github.com/stretchr/testify/assert"
)

func TestCorsConfig_FollowsAllowedOrigins(t *testing.T) {
	wildcard := corsConfig(&config.AppConfig{AllowedOrigins: "*"})
	assert.True(t, wildcard.AllowAllOrigins)
	assert.Empty(t, wildcard.AllowOrigins)
	assert.NoError(t, wildcard.Validate())

	listed := corsConfig(&config.AppConfig{AllowedOrigins: "https://app.example.com,https://admin.example.com"})
	assert.False(t, listed.AllowAllOrigins)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, listed.AllowOrigins)
	assert.NoError(t, listed.Validate())
}
