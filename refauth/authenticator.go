// Package refauth is a bcrypt-backed stompcore.Authenticator, the reference
// credential check used by the integration tests and any host that doesn't
// delegate authentication to something external.
package refauth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/brokermq/stomp-core/stompcore"
)

// Authenticator checks CONNECT credentials against a fixed set of
// bcrypt-hashed passwords.
type Authenticator struct {
	hashes map[string][]byte
}

// New hashes each plaintext credential with bcrypt at construction time, so
// the authenticator never holds plaintext passwords in memory afterward.
func New(credentials map[string]string) (*Authenticator, error) {
	hashes := make(map[string][]byte, len(credentials))
	for user, password := range credentials {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashes[user] = hash
	}
	return &Authenticator{hashes: hashes}, nil
}

// Authenticate calls done synchronously, satisfying stompcore.Authenticator's
// asynchronous shape without actually needing to hop goroutines.
func (a *Authenticator) Authenticate(ctx stompcore.SecurityContext, done func(ok bool)) {
	hash, ok := a.hashes[ctx.User]
	if !ok {
		done(false)
		return
	}
	done(bcrypt.CompareHashAndPassword(hash, []byte(ctx.Password)) == nil)
}
