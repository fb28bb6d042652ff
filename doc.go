// Package voxgate is a multi-tenant gateway that turns tool calls from a
// voice agent platform into HTTP requests against tenant backends.
//
// Each tenant describes its backends and tools in one YAML or JSON document:
//
//	tenant: acme
//	services:
//	  - name: research
//	    url: https://api.acme.com/research
//	tools:
//	  - name: search
//	    parameters:
//	      properties:
//	        query: { type: string }
//	      required: [query]
//	    action:
//	      url: service://research/search?q={query}
//	      response_path: result.summary
//
// Start the server with a directory of tenant documents:
//
//	voxgate serve --config voxgate.yaml
//
// The packages under pkg/ are usable on their own:
//
//   - registry resolves service:// references and ${VAR} placeholders
//   - dispatch validates parameters, calls the backend and shapes the answer
//   - extract turns a backend response into text for speech
//   - job tracks asynchronous operations through a monotonic lifecycle
//   - interaction records every dispatch without blocking it
//   - server exposes the webhook and the admin API over chi
package voxgate
