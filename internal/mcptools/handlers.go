package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zendfi/zendfi-go/pkg/autonomy"
	"github.com/zendfi/zendfi-go/pkg/sessionkeys"
	"github.com/zendfi/zendfi-go/pkg/zendfi"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *zendfi.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *zendfi.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleCreateSessionKey generates a device-bound session key and registers
// it with the backend. The private key never appears in the tool output.
func (h *Handlers) HandleCreateSessionKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	pin := req.GetString("pin", "")
	if pin == "" {
		return mcp.NewToolResultError("pin is required"), nil
	}
	userWallet := req.GetString("user_wallet", "")
	if userWallet == "" {
		return mcp.NewToolResultError("user_wallet is required"), nil
	}
	limit := req.GetFloat("limit_usdc", 100)
	durationDays := req.GetInt("duration_days", 0)

	result, err := h.client.SessionKeys().Create(ctx, &sessionkeys.CreateOptions{
		UserWallet:   userWallet,
		AgentID:      agentID,
		LimitUSDC:    limit,
		DurationDays: durationDays,
		PIN:          pin,
	})
	if err != nil {
		var conflict *sessionkeys.ConflictError
		if errors.As(err, &conflict) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"A session key already exists for agent %s (session key ID: %s).\n"+
					"It was created on another device or in a previous run. "+
					"Load it with its PIN instead of creating a new one, or pick a different agent_id.",
				conflict.AgentID, conflict.SessionKeyID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create session key: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Session key created.\n\n")
	fmt.Fprintf(&sb, "Session Key ID: %s\n", result.SessionKeyID)
	fmt.Fprintf(&sb, "Agent: %s\n", result.AgentID)
	fmt.Fprintf(&sb, "Session Wallet: %s\n", result.SessionWallet)
	fmt.Fprintf(&sb, "Spending Limit: $%.2f USDC\n", result.LimitUSDC)
	fmt.Fprintf(&sb, "Expires: %s\n", result.ExpiresAt)
	sb.WriteString("\nThe key is encrypted with your PIN and bound to this device. Keep the PIN safe; it cannot be recovered.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetSessionKeyStatus reports a session key's backend status.
func (h *Handlers) HandleGetSessionKeyStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionKeyID := req.GetString("session_key_id", "")
	if sessionKeyID == "" {
		return mcp.NewToolResultError("session_key_id is required"), nil
	}

	info, err := h.client.SessionKeys().GetStatus(ctx, sessionKeyID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session key status: %v", err)), nil
	}

	return mcp.NewToolResultText(formatInfo(info)), nil
}

// HandleMakePayment executes a payment from a session key.
func (h *Handlers) HandleMakePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionKeyID := req.GetString("session_key_id", "")
	if sessionKeyID == "" {
		return mcp.NewToolResultError("session_key_id is required"), nil
	}
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	amount := req.GetFloat("amount", 0)
	if amount <= 0 {
		return mcp.NewToolResultError("amount must be positive"), nil
	}
	description := req.GetString("description", "")

	result, err := h.client.SessionKeys().MakePayment(ctx, sessionKeyID, amount, recipient, description)
	if err != nil {
		var apiErr *zendfi.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "INSUFFICIENT_BALANCE" {
			return mcp.NewToolResultText(fmt.Sprintf(
				"Payment declined: insufficient remaining balance for $%.2f.\n"+
					"Use check_balance to see what is left on this session key.", amount)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment of $%.2f USDC sent to %s.\n\n", amount, recipient)
	fmt.Fprintf(&sb, "Payment ID: %s\n", result.PaymentID)
	fmt.Fprintf(&sb, "Status: %s\n", result.Status)
	if result.Signature != "" {
		fmt.Fprintf(&sb, "Transaction: %s\n", result.Signature)
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEnableAutonomy signs a delegation message with the session key and
// enables autonomous payments in one step.
func (h *Handlers) HandleEnableAutonomy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionKeyID := req.GetString("session_key_id", "")
	if sessionKeyID == "" {
		return mcp.NewToolResultError("session_key_id is required"), nil
	}
	maxAmount := req.GetFloat("max_amount_usd", 0)
	durationHours := req.GetInt("duration_hours", 0)
	pin := req.GetString("pin", "")

	// Reject bad limits before any signature exists for them.
	if maxAmount <= 0 {
		return mcp.NewToolResultError("max_amount_usd must be positive"), nil
	}
	if durationHours < autonomy.MinDurationHours || durationHours > autonomy.MaxDurationHours {
		return mcp.NewToolResultError(fmt.Sprintf(
			"duration_hours must be between %d and %d", autonomy.MinDurationHours, autonomy.MaxDurationHours)), nil
	}

	expiresAt := autonomy.CalculateExpiresAt(durationHours)
	signature, err := h.client.SessionKeys().SignDelegation(sessionKeyID, maxAmount, expiresAt, pin)
	if err != nil {
		if errors.Is(err, sessionkeys.ErrNotUnlocked) {
			return mcp.NewToolResultError("Session key is locked. Provide the pin argument to authorize delegation."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to sign delegation: %v", err)), nil
	}

	delegate, err := h.client.Autonomy().Enable(ctx, sessionKeyID, &autonomy.EnableRequest{
		MaxAmountUSD:        maxAmount,
		DurationHours:       durationHours,
		DelegationSignature: signature,
		ExpiresAt:           expiresAt,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to enable autonomy: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Autonomous payments enabled.\n\n")
	fmt.Fprintf(&sb, "Delegate ID: %s\n", delegate.DelegateID)
	fmt.Fprintf(&sb, "Spending Limit: $%.2f USD\n", delegate.MaxAmountUSD)
	fmt.Fprintf(&sb, "Expires: %s\n", delegate.ExpiresAt)
	sb.WriteString("\nPayments up to the limit now proceed without per-transaction approval. Use revoke_autonomy to stop at any time.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRevokeAutonomy disables autonomous payments for a session key.
func (h *Handlers) HandleRevokeAutonomy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionKeyID := req.GetString("session_key_id", "")
	if sessionKeyID == "" {
		return mcp.NewToolResultError("session_key_id is required"), nil
	}
	reason := req.GetString("reason", "")

	if err := h.client.Autonomy().Revoke(ctx, sessionKeyID, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to revoke autonomy: %v", err)), nil
	}

	return mcp.NewToolResultText(
		"Autonomous payments revoked. The session key remains valid for manually approved payments."), nil
}

// HandleVerifyAttestations fetches a delegate's attestation trail and
// verifies every signature and balance transition.
func (h *Handlers) HandleVerifyAttestations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	delegateID := req.GetString("delegate_id", "")
	if delegateID == "" {
		return mcp.NewToolResultError("delegate_id is required"), nil
	}

	trail, err := h.client.Autonomy().GetAttestations(ctx, delegateID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch attestations: %v", err)), nil
	}

	if err := autonomy.VerifyAuditTrail(trail); err != nil {
		var integrity *autonomy.IntegrityError
		if errors.As(err, &integrity) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"VERIFICATION FAILED for delegate %s.\n\n"+
					"Attestation #%d: %s\n\n"+
					"The spending record has been tampered with or the backend misreported. "+
					"Revoke autonomy and contact support.",
				delegateID, integrity.Index, integrity.Reason)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Verification error: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "All %d attestations verified for delegate %s.\n\n", trail.AttestationCount, delegateID)
	for i, signed := range trail.Attestations {
		a := signed.Attestation
		fmt.Fprintf(&sb, "#%d  $%.2f  spent $%.2f of $%.2f  remaining $%.2f\n",
			i, a.RequestedUSD, a.SpentUSD, a.LimitUSD, a.RemainingAfterUSD)
	}
	sb.WriteString("\nEvery signature checks out and the spending sequence is consistent.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBalance reports the remaining balance on a session key.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionKeyID := req.GetString("session_key_id", "")
	if sessionKeyID == "" {
		return mcp.NewToolResultError("session_key_id is required"), nil
	}

	info, err := h.client.GetBalance(ctx, sessionKeyID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	return mcp.NewToolResultText(formatInfo(info)), nil
}

// HandleSearchMarketplace searches for service providers.
func (h *Handlers) HandleSearchMarketplace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceType := req.GetString("service_type", "")
	if serviceType == "" {
		return mcp.NewToolResultError("service_type is required"), nil
	}
	filter := zendfi.MarketplaceFilter{
		MaxPrice:      req.GetFloat("max_price", 0),
		MinReputation: req.GetFloat("min_reputation", 0),
	}

	providers, err := h.client.SearchMarketplace(ctx, serviceType, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Marketplace search failed: %v", err)), nil
	}
	if len(providers) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No providers found for %q.", serviceType)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d provider(s) for %q (cheapest first):\n\n", len(providers), serviceType)
	for i, p := range providers {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.AgentName)
		fmt.Fprintf(&sb, "   Price: $%.4f per unit\n", p.PricePerUnit)
		fmt.Fprintf(&sb, "   Reputation: %.1f/5.0\n", p.Reputation)
		fmt.Fprintf(&sb, "   Wallet: %s\n", p.Wallet)
		if p.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", p.Description)
		}
		sb.WriteString("\n")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

func formatInfo(info *sessionkeys.Info) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session Key: %s\n", info.SessionKeyID)
	if info.IsActive {
		sb.WriteString("Status: active\n")
	} else {
		sb.WriteString("Status: inactive\n")
	}
	fmt.Fprintf(&sb, "Limit: $%.2f USDC\n", info.LimitUSDC)
	fmt.Fprintf(&sb, "Spent: $%.2f USDC\n", info.UsedAmountUSDC)
	fmt.Fprintf(&sb, "Remaining: $%.2f USDC\n", info.RemainingUSDC)
	fmt.Fprintf(&sb, "Expires: %s (%d days)\n", info.ExpiresAt, info.DaysUntilExpiry)
	return sb.String()
}
