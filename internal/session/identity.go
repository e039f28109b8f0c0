package session

// Identity is the authentication state of a connection. A connection starts
// Anonymous and becomes Authenticated exactly once, during the auth
// handshake; it never transitions back. Holding the user id inside the
// variant makes "authenticated iff user id set" true by construction.
type Identity struct {
	userID string
}

// Anonymous is the identity of a connection before the auth handshake.
var Anonymous = Identity{}

// Authenticated returns the identity of a connection bound to a user.
func Authenticated(userID string) Identity {
	return Identity{userID: userID}
}

// IsAuthenticated reports whether the connection has completed the handshake.
func (i Identity) IsAuthenticated() bool {
	return i.userID != ""
}

// UserID returns the bound user id, or false for anonymous connections.
func (i Identity) UserID() (string, bool) {
	return i.userID, i.userID != ""
}
