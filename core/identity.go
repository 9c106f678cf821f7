package core

// identity.go -- device certificate authorization and revocation (§4.4).

import "sync"

// revocation records that a certificate issued at IssuedAt by IssuerPK was
// revoked, and the node hash of the revocation point. Revocations are
// tracked rather than rewriting history; fromNode is stored but not
// consulted, so already-verified descendants of the revocation point are
// not invalidated.
type revocation struct {
	issuerPK  LogicalIdentityPk
	issuedAt  int64
	fromNode  Hash32
}

// IdentityManager tracks, per conversation, which devices are authorized to
// act on behalf of which logical identities.
type IdentityManager struct {
	mu    sync.RWMutex
	certs map[ConversationId]map[LogicalIdentityPk][]*Certificate
	revs  map[ConversationId][]revocation
}

func NewIdentityManager() *IdentityManager {
	return &IdentityManager{
		certs: make(map[ConversationId]map[LogicalIdentityPk][]*Certificate),
		revs:  make(map[ConversationId][]revocation),
	}
}

func chainDepth(certs []*Certificate) int { return len(certs) }

// AuthorizeDevice validates cert's signature under authorPK, checks
// ExpiresAt, and inserts it, enforcing the chain-depth cap of 16.
func (m *IdentityManager) AuthorizeDevice(cid ConversationId, authorPK LogicalIdentityPk, cert *Certificate, now int64) error {
	if !Verify(authorPK[:], cert.signingBytes(), cert.Signature) {
		return newErr(ErrAuthentication, "certificate signature invalid", nil)
	}
	if cert.ExpiresAt <= now {
		return newErr(ErrAuthentication, "certificate already expired", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.certs[cid] == nil {
		m.certs[cid] = make(map[LogicalIdentityPk][]*Certificate)
	}
	existing := m.certs[cid][authorPK]
	if chainDepth(existing) >= maxCertChainDepth {
		return newErr(ErrResource, "certificate chain depth exceeds cap", nil)
	}
	m.certs[cid][authorPK] = append(existing, cert)
	return nil
}

// IsAuthorized reports whether a non-expired, non-revoked certificate
// exists authorizing devicePK to act for authorPK in cid at time now.
func (m *IdentityManager) IsAuthorized(cid ConversationId, devicePK PhysicalDevicePk, authorPK LogicalIdentityPk, now int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.certs[cid][authorPK] {
		if c.SubjectPK != devicePK {
			continue
		}
		if now < c.IssuedAt || now >= c.ExpiresAt {
			continue
		}
		if m.isRevokedLocked(cid, authorPK, c.IssuedAt) {
			continue
		}
		return true
	}
	return false
}

// HasPermission reports whether devicePK currently holds perm for authorPK
// in cid.
func (m *IdentityManager) HasPermission(cid ConversationId, devicePK PhysicalDevicePk, authorPK LogicalIdentityPk, now int64, perm Permission) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.certs[cid][authorPK] {
		if c.SubjectPK != devicePK {
			continue
		}
		if now < c.IssuedAt || now >= c.ExpiresAt {
			continue
		}
		if m.isRevokedLocked(cid, authorPK, c.IssuedAt) {
			continue
		}
		if c.Permissions&perm != 0 {
			return true
		}
	}
	return false
}

func (m *IdentityManager) isRevokedLocked(cid ConversationId, issuer LogicalIdentityPk, issuedAt int64) bool {
	for _, r := range m.revs[cid] {
		if r.issuerPK == issuer && r.issuedAt == issuedAt {
			return true
		}
	}
	return false
}

// Revoke records that the certificate issued at issuedAt by issuerPK is
// void. From then on IsAuthorized and HasPermission reject that certificate
// for every timestamp; nodes already verified under it are left as they are.
func (m *IdentityManager) Revoke(cid ConversationId, issuerPK LogicalIdentityPk, issuedAt int64, fromNode Hash32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revs[cid] = append(m.revs[cid], revocation{issuerPK: issuerPK, issuedAt: issuedAt, fromNode: fromNode})
}
