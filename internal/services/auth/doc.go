// Package auth hosts the identity provider and user directory: account
// registration, credential checks, bearer token issuance, and the token
// introspection endpoint consumed by the chat service.
package auth
