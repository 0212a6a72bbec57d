/*
Package recoveryhandler exposes the social recovery lifecycle over HTTP:
activation, requests, holder approvals, cancellation and completion.

Share codes and the requester's session private key appear in responses
exactly once and are never stored server side. Approvals travel sealed to
the requester's session key, so the server cannot read the recovery terms
it relays.
*/
package recoveryhandler
