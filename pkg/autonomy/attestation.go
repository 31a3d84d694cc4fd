package autonomy

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/zendfi/zendfi-go/internal/metrics"
	"github.com/zendfi/zendfi-go/pkg/base58"
)

// balanceTolerance absorbs 2-decimal rounding in USD arithmetic.
const balanceTolerance = 0.005

// SpendingAttestation is the backend's commitment to the spending state at
// the moment one autonomous payment was authorized.
type SpendingAttestation struct {
	DelegateID        string  `json:"delegate_id"`
	SessionKeyID      string  `json:"session_key_id"`
	MerchantID        string  `json:"merchant_id"`
	SpentUSD          float64 `json:"spent_usd"`
	LimitUSD          float64 `json:"limit_usd"`
	RequestedUSD      float64 `json:"requested_usd"`
	RemainingAfterUSD float64 `json:"remaining_after_usd"`
	TimestampMS       int64   `json:"timestamp_ms"`
	Nonce             string  `json:"nonce"`
	PaymentID         string  `json:"payment_id"`
	Version           int     `json:"version"`
}

// SignedSpendingAttestation pairs an attestation with the backend's
// detached Ed25519 signature over its canonical serialization.
type SignedSpendingAttestation struct {
	Attestation     SpendingAttestation `json:"attestation"`
	Signature       string              `json:"signature"`         // base64
	SignerPublicKey string              `json:"signer_public_key"` // base58
}

// AttestationAuditResponse is the full signed spending history for one
// delegate, ordered oldest first.
type AttestationAuditResponse struct {
	DelegateID                 string                      `json:"delegate_id"`
	AttestationCount           int                         `json:"attestation_count"`
	Attestations               []SignedSpendingAttestation `json:"attestations"`
	ZendFiAttestationPublicKey string                      `json:"zendfi_attestation_public_key,omitempty"`
}

// IntegrityError reports an audit trail entry that failed verification.
// It indicates a compromised or misbehaving backend and must halt trust
// in the delegate immediately.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("attestation %d failed integrity check: %s", e.Index, e.Reason)
}

// CanonicalBytes serializes an attestation in the fixed field order the
// backend signs. Amounts are rendered to 2 decimals. Like the delegation
// message, this is a wire contract shared with the signer.
func CanonicalBytes(a *SpendingAttestation) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%.2f|%.2f|%.2f|%.2f|%d|%s|%s|%d",
		a.DelegateID,
		a.SessionKeyID,
		a.MerchantID,
		a.SpentUSD,
		a.LimitUSD,
		a.RequestedUSD,
		a.RemainingAfterUSD,
		a.TimestampMS,
		a.Nonce,
		a.PaymentID,
		a.Version,
	))
}

// VerifyAuditTrail checks every attestation in the trail:
//
//   - the detached signature verifies against signer_public_key over the
//     canonical serialization,
//   - remaining_after_usd equals limit_usd minus spent_usd,
//   - spent_usd never decreases across the ordered sequence,
//   - nonces are unique within the trail.
//
// The first violation is returned as an *IntegrityError naming the failing
// entry. A nil return means the trail is internally consistent and every
// signature is genuine.
func VerifyAuditTrail(resp *AttestationAuditResponse) error {
	if err := verifyAuditTrail(resp); err != nil {
		metrics.AttestationVerifications.WithLabelValues("integrity_failure").Inc()
		return err
	}
	metrics.AttestationVerifications.WithLabelValues("ok").Inc()
	return nil
}

func verifyAuditTrail(resp *AttestationAuditResponse) error {
	prevSpent := math.Inf(-1)
	seenNonces := make(map[string]int, len(resp.Attestations))

	for i := range resp.Attestations {
		signed := &resp.Attestations[i]
		att := &signed.Attestation

		pub, err := base58.Decode(signed.SignerPublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return &IntegrityError{Index: i, Reason: "malformed signer public key"}
		}

		sig, err := base64.StdEncoding.DecodeString(signed.Signature)
		if err != nil || len(sig) != ed25519.SignatureSize {
			return &IntegrityError{Index: i, Reason: "malformed signature"}
		}

		if !ed25519.Verify(ed25519.PublicKey(pub), CanonicalBytes(att), sig) {
			return &IntegrityError{Index: i, Reason: "signature verification failed"}
		}

		if math.Abs(att.RemainingAfterUSD-(att.LimitUSD-att.SpentUSD)) > balanceTolerance {
			return &IntegrityError{Index: i, Reason: fmt.Sprintf(
				"remaining_after_usd %.2f does not equal limit %.2f minus spent %.2f",
				att.RemainingAfterUSD, att.LimitUSD, att.SpentUSD)}
		}

		if att.SpentUSD < prevSpent-balanceTolerance {
			return &IntegrityError{Index: i, Reason: fmt.Sprintf(
				"spent_usd decreased from %.2f to %.2f", prevSpent, att.SpentUSD)}
		}
		prevSpent = att.SpentUSD

		if prev, ok := seenNonces[att.Nonce]; ok {
			return &IntegrityError{Index: i, Reason: fmt.Sprintf(
				"nonce replayed from attestation %d", prev)}
		}
		seenNonces[att.Nonce] = i
	}

	return nil
}
