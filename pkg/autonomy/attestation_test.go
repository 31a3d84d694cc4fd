package autonomy

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/zendfi/zendfi-go/pkg/base58"
)

type attestationSigner struct {
	pub  string
	priv ed25519.PrivateKey
}

func newAttestationSigner(t *testing.T) *attestationSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &attestationSigner{pub: base58.Encode(pub), priv: priv}
}

func (s *attestationSigner) sign(a SpendingAttestation) SignedSpendingAttestation {
	sig := ed25519.Sign(s.priv, CanonicalBytes(&a))
	return SignedSpendingAttestation{
		Attestation:     a,
		Signature:       base64.StdEncoding.EncodeToString(sig),
		SignerPublicKey: s.pub,
	}
}

// honestTrail builds a consistent spending sequence under a $100 limit.
func honestTrail(t *testing.T, s *attestationSigner) *AttestationAuditResponse {
	t.Helper()
	spends := []float64{10, 25, 60}
	var attestations []SignedSpendingAttestation
	var spent float64
	for i, amount := range spends {
		spent += amount
		attestations = append(attestations, s.sign(SpendingAttestation{
			DelegateID:        "del-1",
			SessionKeyID:      "sess-1",
			MerchantID:        "merchant-1",
			SpentUSD:          spent,
			LimitUSD:          100,
			RequestedUSD:      amount,
			RemainingAfterUSD: 100 - spent,
			TimestampMS:       1735689600000 + int64(i)*1000,
			Nonce:             fmt.Sprintf("nonce-%d", i),
			PaymentID:         fmt.Sprintf("pay-%d", i),
			Version:           1,
		}))
	}
	return &AttestationAuditResponse{
		DelegateID:       "del-1",
		AttestationCount: len(attestations),
		Attestations:     attestations,
	}
}

func TestVerifyAuditTrailHonest(t *testing.T) {
	s := newAttestationSigner(t)
	if err := VerifyAuditTrail(honestTrail(t, s)); err != nil {
		t.Errorf("honest trail rejected: %v", err)
	}
}

func TestVerifyAuditTrailEmpty(t *testing.T) {
	if err := VerifyAuditTrail(&AttestationAuditResponse{DelegateID: "del-1"}); err != nil {
		t.Errorf("empty trail rejected: %v", err)
	}
}

func TestVerifyAuditTrailTamperedField(t *testing.T) {
	s := newAttestationSigner(t)
	trail := honestTrail(t, s)

	// Forge a lower spent figure without re-signing. Keep the balance
	// equation consistent so only the signature check can catch it.
	trail.Attestations[2].Attestation.SpentUSD = 50
	trail.Attestations[2].Attestation.RemainingAfterUSD = 50

	err := VerifyAuditTrail(trail)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ierr.Index != 2 {
		t.Errorf("index = %d, want 2", ierr.Index)
	}
}

func TestVerifyAuditTrailBalanceMismatch(t *testing.T) {
	s := newAttestationSigner(t)
	trail := honestTrail(t, s)

	// A correctly signed attestation whose own arithmetic is wrong.
	bad := trail.Attestations[1].Attestation
	bad.RemainingAfterUSD = bad.LimitUSD - bad.SpentUSD + 10
	trail.Attestations[1] = s.sign(bad)

	err := VerifyAuditTrail(trail)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ierr.Index != 1 {
		t.Errorf("index = %d, want 1", ierr.Index)
	}
}

func TestVerifyAuditTrailSpentDecreases(t *testing.T) {
	s := newAttestationSigner(t)
	trail := honestTrail(t, s)

	// Signed attestation claiming spending went backwards.
	rollback := trail.Attestations[2].Attestation
	rollback.SpentUSD = 5
	rollback.RemainingAfterUSD = 95
	trail.Attestations[2] = s.sign(rollback)

	err := VerifyAuditTrail(trail)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ierr.Index != 2 {
		t.Errorf("index = %d, want 2", ierr.Index)
	}
}

func TestVerifyAuditTrailReplayedNonce(t *testing.T) {
	s := newAttestationSigner(t)
	trail := honestTrail(t, s)

	replay := trail.Attestations[2].Attestation
	replay.Nonce = trail.Attestations[0].Attestation.Nonce
	trail.Attestations[2] = s.sign(replay)

	err := VerifyAuditTrail(trail)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ierr.Index != 2 {
		t.Errorf("index = %d, want 2", ierr.Index)
	}
}

func TestVerifyAuditTrailWrongSigner(t *testing.T) {
	s := newAttestationSigner(t)
	other := newAttestationSigner(t)
	trail := honestTrail(t, s)

	// Signature from a key that does not match the claimed public key.
	forged := trail.Attestations[0].Attestation
	resigned := other.sign(forged)
	resigned.SignerPublicKey = s.pub
	trail.Attestations[0] = resigned

	var ierr *IntegrityError
	if !errors.As(VerifyAuditTrail(trail), &ierr) {
		t.Fatal("expected IntegrityError for mismatched signer")
	}
}

func TestVerifyAuditTrailMalformedEncoding(t *testing.T) {
	s := newAttestationSigner(t)

	t.Run("bad public key", func(t *testing.T) {
		trail := honestTrail(t, s)
		trail.Attestations[0].SignerPublicKey = "0OIl" // invalid base58
		var ierr *IntegrityError
		if !errors.As(VerifyAuditTrail(trail), &ierr) {
			t.Fatal("expected IntegrityError")
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		trail := honestTrail(t, s)
		trail.Attestations[0].Signature = "%%%"
		var ierr *IntegrityError
		if !errors.As(VerifyAuditTrail(trail), &ierr) {
			t.Fatal("expected IntegrityError")
		}
	})

	t.Run("truncated signature", func(t *testing.T) {
		trail := honestTrail(t, s)
		trail.Attestations[0].Signature = base64.StdEncoding.EncodeToString([]byte("short"))
		var ierr *IntegrityError
		if !errors.As(VerifyAuditTrail(trail), &ierr) {
			t.Fatal("expected IntegrityError")
		}
	})
}

func TestCanonicalBytesFixedOrder(t *testing.T) {
	a := &SpendingAttestation{
		DelegateID:        "d",
		SessionKeyID:      "s",
		MerchantID:        "m",
		SpentUSD:          1.5,
		LimitUSD:          10,
		RequestedUSD:      1.5,
		RemainingAfterUSD: 8.5,
		TimestampMS:       42,
		Nonce:             "n",
		PaymentID:         "p",
		Version:           1,
	}
	want := "d|s|m|1.50|10.00|1.50|8.50|42|n|p|1"
	if got := string(CanonicalBytes(a)); got != want {
		t.Errorf("canonical bytes = %q, want %q", got, want)
	}
}
