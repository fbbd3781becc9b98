// Copyright 2025 FreshFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the FreshFlow Gateway service.
//
// The Gateway is the client-facing entry point of the platform. It:
// - Authenticates the dialogue agent via API keys and user JWTs
// - Enforces per-client rate limits
// - Forwards tool calls to the tool service
// - Records an audit trail for every call
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	TOOL_SERVICE_URL - URL of the tool service
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis connection string for rate limiting
//	JWT_SECRET - Secret for user JWT validation
package main

import (
	"freshflow/platform/gateway"
)

func main() {
	gateway.Run()
}
