package share

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"memoshare/models"
)

const (
	// SessionTTL is how long an unconsumed approved session stays valid.
	SessionTTL = 120 * time.Second
	// NonceTTL is how long a registered request nonce blocks replays.
	NonceTTL = 10 * time.Minute
	// MaxNonceEntries caps the replay table; the oldest entry is evicted
	// when the table is full.
	MaxNonceEntries = 5000
	// DefaultApprovalTimeout bounds the wait for a human accept/reject
	// decision; expiry resolves as reject.
	DefaultApprovalTimeout = 60 * time.Second
)

// ApprovedSession is a one-time credential minted when the receiving user
// accepts a prepare request. RequestHash binds the token to the exact
// payload that was approved.
type ApprovedSession struct {
	Token           string
	SenderName      string
	RequestHash     string
	AttachmentNames []string
	CreatedAt       time.Time
}

// pendingApproval is the single in-flight accept/reject decision. Exactly
// one of the human decision or the timeout fulfills it.
type pendingApproval struct {
	payload  models.SharePayload
	once     sync.Once
	decision chan bool
}

func newPendingApproval(payload models.SharePayload) *pendingApproval {
	return &pendingApproval{
		payload:  payload,
		decision: make(chan bool, 1),
	}
}

func (p *pendingApproval) fulfill(accept bool) {
	p.once.Do(func() {
		p.decision <- accept
	})
}

// sessionStore owns the receiver's mutable bookkeeping: the pending
// approval slot, the approved-session table, and the nonce replay table.
// All three live behind one mutex because they are touched together within
// a single request lifecycle.
type sessionStore struct {
	now func() time.Time

	mu       sync.Mutex
	pending  *pendingApproval
	sessions map[string]ApprovedSession
	nonces   map[string]time.Time
}

func newSessionStore(now func() time.Time) *sessionStore {
	if now == nil {
		now = time.Now
	}
	return &sessionStore{
		now:      now,
		sessions: make(map[string]ApprovedSession),
		nonces:   make(map[string]time.Time),
	}
}

// registerNonce records a request nonce, rejecting replays within NonceTTL.
// Expired entries are purged first; at capacity the oldest entry is evicted.
func (s *sessionStore) registerNonce(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for value, issuedAt := range s.nonces {
		if now.Sub(issuedAt) > NonceTTL {
			delete(s.nonces, value)
		}
	}

	if _, replayed := s.nonces[nonce]; replayed {
		return false
	}

	if len(s.nonces) >= MaxNonceEntries {
		var oldestNonce string
		var oldestTime time.Time
		for value, issuedAt := range s.nonces {
			if oldestNonce == "" || issuedAt.Before(oldestTime) {
				oldestNonce = value
				oldestTime = issuedAt
			}
		}
		delete(s.nonces, oldestNonce)
	}

	s.nonces[nonce] = now
	return true
}

// tryAdmitApproval installs p as the single pending approval. A second
// concurrent prepare is refused outright, never queued.
func (s *sessionStore) tryAdmitApproval(p *pendingApproval) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return false
	}
	s.pending = p
	return true
}

// clearApproval releases the pending slot if p still occupies it.
func (s *sessionStore) clearApproval(p *pendingApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == p {
		s.pending = nil
	}
}

// currentApproval returns the pending approval, if any.
func (s *sessionStore) currentApproval() *pendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// mintSession creates a session token bound to a request hash and the
// approved attachment name set.
func (s *sessionStore) mintSession(senderName, requestHash string, attachmentNames []string) ApprovedSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeSessionsLocked()

	session := ApprovedSession{
		Token:           uuid.NewString(),
		SenderName:      senderName,
		RequestHash:     requestHash,
		AttachmentNames: sortedNames(attachmentNames),
		CreatedAt:       s.now(),
	}
	s.sessions[session.Token] = session
	return session
}

// consumeSession removes and returns the session for a token. Removal
// happens at the moment consumption is attempted, so a failed transfer can
// never leave its session usable.
func (s *sessionStore) consumeSession(token string) (ApprovedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeSessionsLocked()

	session, ok := s.sessions[token]
	if !ok {
		return ApprovedSession{}, false
	}
	delete(s.sessions, token)
	return session, true
}

func (s *sessionStore) purgeSessionsLocked() {
	now := s.now()
	for token, session := range s.sessions {
		if now.Sub(session.CreatedAt) > SessionTTL {
			delete(s.sessions, token)
		}
	}
}
