// Package ceremony orchestrates passkey registration and authentication.
//
// Each ceremony runs in two halves: a begin call issues a single-use
// challenge bound to server-side session state, and a finish call consumes
// that session and verifies the authenticator's response. The only value a
// client has to echo back is the opaque session ID; challenges, usernames,
// and relying party parameters are always read from the server-side record.
package ceremony
