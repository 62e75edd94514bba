// Package insurance turns the provider's proof-of-insurance response into
// an adapter response.
//
// The provider reports how many days of coverage remain and an opaque hash.
// The hash is mapped to a 191-bit integer with HashToAUM so it fits the
// on-chain answer type.
package insurance
