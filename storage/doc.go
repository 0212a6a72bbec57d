// Package storage provides content-addressed blob backends for sealed ledger
// archives and store snapshots. Each backend addresses content by the
// SHA-256 hash of the data; the engine only ever hands backends opaque
// ciphertext, so a backend never has to be trusted with plaintext.
//
// Backends are created from location URIs through the factory:
//
//	file:///var/lib/veilkey/archive
//	memory://
//	s3://ACCESS:SECRET@bucket/prefix/?region=eu-west-1
//	ipfs://localhost:5001/
//	vault://vault.example.com:8200/secret/veilkey?token=...
//
// The multi backend replicates stores across several locations and serves
// fetches from the first backend that has the content.
package storage
