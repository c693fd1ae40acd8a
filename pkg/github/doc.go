// Package github is a small client for the parts of GitHub used during a
// login: the OAuth device authorization grant, identity and organization
// membership checks, team membership and public key retrieval.
package github
