// Package server exposes the cached prices and the insurance proof over HTTP.
//
// Routes:
//   - POST /price             last good value for {"data":{"base","quote"}}
//   - POST /insurance-proof   proof-of-insurance adapter
//   - GET  /health            connection state, build info, sink checks
//   - GET  /debug/instruments store contents with age and staleness
//
// Responses use the adapter envelope (model.AdapterResponse).
package server
