// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

// headers attached to every collaborator request
const (
	HEADER_API_KEY         = "x-api-key"
	HEADER_SESSION_ID      = "x-roleplay-session-id"
	HEADER_SOURCE_KEY      = "x-rapida-source"
	HEADER_ENVIRONMENT_KEY = "x-rapida-environment"
)

// SOURCE_ROLEPLAY identifies this engine in HEADER_SOURCE_KEY.
const SOURCE_ROLEPLAY = "roleplay-engine"
