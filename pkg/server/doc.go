// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package server exposes the dispatch core over HTTP.
//
// Routes are grouped by concern:
//
//	POST /tenants/{tenant}/dispatch        tool invocation
//	POST /webhook/{tenant}                 voice platform webhook
//	     /tenants/{tenant}/services        service registration and health
//	     /jobs, /job-status/{id}           async job management
//	GET  /tenants/{tenant}/interactions    dispatch history
//	GET  /health, /metrics                 operations
//
// Errors are written as {"error", "error_kind"} with a status derived from
// the error classification.
package server
