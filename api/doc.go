/*
Package api provides the HTTP surface of the capability engine.

The package is organized into handler subpackages plus the server itself:

1. enginehandler - role issuance, sharing and data item operations
2. recoveryhandler - social recovery lifecycle operations
3. server.go - HTTP server configuration and lifecycle management

Each handler package also ships the matching typed client, so callers and
the server share one set of wire types.

# Security Model

The server is stateless with respect to key material. Every request carries
the caller's master secret and root role ids in headers; the handler rebuilds
the caller's key ring for the duration of the request and discards it. The
transport moves only sealed blobs and identifiers, never plaintext keys other
than the caller's own master secret.

Engine sentinel errors map onto HTTP status codes at this boundary:

  - ErrPreconditionRequired -> 428
  - ErrForbidden            -> 403
  - ErrNotFound             -> 404
  - ErrConflict             -> 409
  - ErrBadRequest           -> 400
  - ErrAuthentication       -> 401
  - ErrDecryption           -> 401

Crypto failures stay indistinguishable from each other on the wire.
*/
package api
