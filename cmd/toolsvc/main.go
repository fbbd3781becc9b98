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

// Package main is the entry point for the FreshFlow Tool Service.
//
// The Tool Service executes the operational tools the dialogue agent
// calls through the gateway: harvest logging and advice, market data
// and ordering, logistics tracking with cold chain monitoring, delivery
// route optimization, and entity lookups.
//
// Usage:
//
//	./toolsvc
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8081)
//	DATABASE_URL - PostgreSQL connection string (required)
//	REDIS_URL - Redis connection string for lookup caching
//	MEDIA_BUCKET - GCS bucket for harvest and QC photos
//	ROUTING_API_KEY - Google Maps Platform API key
package main

import (
	"freshflow/platform/tools"
)

func main() {
	tools.Run()
}
