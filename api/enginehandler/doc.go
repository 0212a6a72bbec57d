/*
Package enginehandler exposes role issuance, sharing and protected data
items over HTTP, together with the matching typed client.

Every authenticated route rebuilds the caller's key ring from the request
headers and drops it when the request ends; the handler holds no key
material. Request and response bodies carry identifiers, access level names
and base64 content only.
*/
package enginehandler
