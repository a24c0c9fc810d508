// Package web3 houses blockchain connectivity utilities: the backend
// abstraction consumed by contract handles, chain definitions loaded from
// YAML, and the per-network client implementations living in the
// sub-packages (ethereum, provider, accounts).
package web3
