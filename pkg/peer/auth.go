package peer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
)

// authContext holds the in-flight state of the reduced two-message
// challenge-response exchange (SPEC_FULL.md §4.2): the connecting peer
// sends AUTH with a 16-byte server nonce, the responder replies AUTH with
// HMAC-SHA256(sharedSecret, nonce); mismatch denies the peer.
//
// Grounded on the teacher's source/protocol/rpc.go RPC challenge handling,
// generalized from RakNet's raw-RSA handshake to spec.md's HMAC challenge.
type authContext struct {
	nonce    [16]byte
	expected [sha256.Size]byte
	verified bool
}

// BeginAuth generates a fresh nonce and the HMAC response the connecting
// side should be challenged to reproduce, and transitions
// AUTHENTICATING -> awaiting response (state unchanged; the transition to
// AUTHENTICATED/DEAD happens in CompleteAuth).
func (p *Peer) BeginAuth(sharedSecret []byte) (nonce [16]byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		return nonce, err
	}

	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write(nonce[:])
	var expected [sha256.Size]byte
	copy(expected[:], mac.Sum(nil))

	p.mu.Lock()
	p.authCtx = &authContext{nonce: nonce, expected: expected}
	p.mu.Unlock()
	return nonce, nil
}

// CompleteAuth checks a peer's HMAC response against the outstanding
// challenge and drives AUTHENTICATING -> AUTHENTICATED or -> DEAD
// (spec.md §4.2 "auth denied -> DEAD").
func (p *Peer) CompleteAuth(response []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := p.authCtx
	if ctx == nil {
		return false
	}
	ok := hmac.Equal(response, ctx.expected[:])
	ctx.verified = ok
	if ok {
		p.setState(StateAuthenticated)
	} else {
		p.setState(StateDead)
	}
	return ok
}
