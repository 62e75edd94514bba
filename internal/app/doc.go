// Package app maps loaded configuration onto the components the binaries
// assemble.
package app
