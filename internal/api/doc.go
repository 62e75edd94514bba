// Package api provides the REST client for the proof-of-insurance provider.
//
// Endpoint:
//   - Production: https://api.t-rize.com (GET /)
//
// Requests carry a Bearer token and Accept: application/json. Server errors
// and 429 responses are retried with jittered exponential backoff.
package api
