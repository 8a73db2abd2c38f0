package domain

// Role is the coarse-grained account role reported by the identity provider.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SessionHandle is the locally held authenticated session of this process.
// It is owned exclusively by this process, replaced wholesale on
// re-authentication, and cleared on logout. The token is opaque: it is
// compared for equality during arbitration and attached as a bearer
// credential, never interpreted.
type SessionHandle struct {
	AccountID string
	Token     string
	Email     string
	Role      Role
}

// Announcement is the single message type carried on an account channel.
// Every connection broadcasts its own token immediately after subscribing;
// receiving a foreign token means this connection has been superseded.
type Announcement struct {
	Token string `json:"token"`
}

// AuthEvent is an auth state change delivered by the identity provider's
// event stream.
type AuthEvent string

const (
	AuthEventSignedIn            AuthEvent = "SIGNED_IN"
	AuthEventTokenRefreshed      AuthEvent = "TOKEN_REFRESHED"
	AuthEventSignedOut           AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshRevoked AuthEvent = "TOKEN_REFRESH_REVOKED"
	AuthEventUserDeleted         AuthEvent = "USER_DELETED"
)

// Terminal reports whether the event must unconditionally trigger the kill
// switch, bypassing token comparison.
func (e AuthEvent) Terminal() bool {
	switch e {
	case AuthEventSignedOut, AuthEventTokenRefreshRevoked, AuthEventUserDeleted:
		return true
	}
	return false
}
