package main

import "github.com/google/uuid"

// newUserID mints a fresh opaque logical user identity.
func newUserID() string {
	return "u_" + uuid.NewString()
}

// newToken mints a fresh reconnect token. Tokens are uuidv4, giving well
// over the 128 bits of entropy the data model requires.
func newToken() string {
	return uuid.NewString()
}

// newRoomID mints a fresh opaque room identifier.
func newRoomID() string {
	return "r_" + uuid.NewString()
}
