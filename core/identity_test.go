package core

import (
	"crypto/ed25519"
	"testing"
)

func TestIdentityExpiry(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var issuer LogicalIdentityPk
	copy(issuer[:], pub)
	var device PhysicalDevicePk
	device[0] = 0x42

	cert := &Certificate{
		IssuerPK:    issuer,
		SubjectPK:   device,
		Permissions: PermPost,
		IssuedAt:    0,
		ExpiresAt:   2_000_000_000_000,
	}
	cert.Signature = Sign(priv, cert.signingBytes())

	cid := ConversationId{0xAA}
	im := NewIdentityManager()
	if err := im.AuthorizeDevice(cid, issuer, cert, 0); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if !im.IsAuthorized(cid, device, issuer, 1_100_000_000_000) {
		t.Fatalf("expected authorized before expiry")
	}
	if im.IsAuthorized(cid, device, issuer, 3_000_000_000_000) {
		t.Fatalf("expected rejected after expiry")
	}
}

func TestChainDepthCap(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var issuer LogicalIdentityPk
	copy(issuer[:], pub)
	cid := ConversationId{0x01}
	im := NewIdentityManager()

	for i := 0; i < maxCertChainDepth; i++ {
		var device PhysicalDevicePk
		device[0] = byte(i)
		cert := &Certificate{IssuerPK: issuer, SubjectPK: device, Permissions: PermPost, IssuedAt: 0, ExpiresAt: 1 << 62}
		cert.Signature = Sign(priv, cert.signingBytes())
		if err := im.AuthorizeDevice(cid, issuer, cert, 0); err != nil {
			t.Fatalf("authorize #%d: %v", i, err)
		}
	}

	var overflow PhysicalDevicePk
	overflow[0] = 0xFF
	cert := &Certificate{IssuerPK: issuer, SubjectPK: overflow, Permissions: PermPost, IssuedAt: 0, ExpiresAt: 1 << 62}
	cert.Signature = Sign(priv, cert.signingBytes())
	if err := im.AuthorizeDevice(cid, issuer, cert, 0); err == nil {
		t.Fatalf("expected chain depth cap to reject the 17th certificate")
	}
}

func TestRevocationDoesNotInvalidatePastAuthorizations(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var issuer LogicalIdentityPk
	copy(issuer[:], pub)
	var device PhysicalDevicePk
	device[0] = 7
	cid := ConversationId{0x02}
	im := NewIdentityManager()

	cert := &Certificate{IssuerPK: issuer, SubjectPK: device, Permissions: PermPost, IssuedAt: 100, ExpiresAt: 1 << 62}
	cert.Signature = Sign(priv, cert.signingBytes())
	if err := im.AuthorizeDevice(cid, issuer, cert, 100); err != nil {
		t.Fatal(err)
	}
	if !im.IsAuthorized(cid, device, issuer, 200) {
		t.Fatalf("expected authorized before revocation recorded")
	}
	im.Revoke(cid, issuer, 100, Hash32{0x99})
	if im.IsAuthorized(cid, device, issuer, 300) {
		t.Fatalf("expected future authorization checks to honor revocation")
	}
}
