package mcptools

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ZendFi MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreateSessionKey = mcp.NewTool("create_session_key",
	mcp.WithDescription(
		"Create a device-bound session key for making payments. "+
			"The keypair is generated locally and encrypted with your PIN plus this device's fingerprint; "+
			"the backend never sees the private key. "+
			"Use this once per agent before making payments."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("Unique identifier for this agent (e.g. 'shopping-agent')")),
	mcp.WithString("pin",
		mcp.Required(),
		mcp.Description("6-digit numeric PIN that will encrypt the session key")),
	mcp.WithString("user_wallet",
		mcp.Required(),
		mcp.Description("The user's main Solana wallet address (base58)")),
	mcp.WithNumber("limit_usdc",
		mcp.Description("Spending limit in USDC (default 100)")),
	mcp.WithNumber("duration_days",
		mcp.Description("Session key lifetime in days (default 7)")),
)

var ToolGetSessionKeyStatus = mcp.NewTool("get_session_key_status",
	mcp.WithDescription(
		"Get the current status of a session key: whether it is active, "+
			"the spending limit, how much has been spent, and when it expires."),
	mcp.WithString("session_key_id",
		mcp.Required(),
		mcp.Description("UUID of the session key")),
)

var ToolMakePayment = mcp.NewTool("make_payment",
	mcp.WithDescription(
		"Make a USDC payment from a session key to a recipient wallet. "+
			"Spending limits are enforced by the backend and every autonomous payment "+
			"is recorded in a signed attestation trail. "+
			"Check the balance first with check_balance if unsure about available funds."),
	mcp.WithString("session_key_id",
		mcp.Required(),
		mcp.Description("UUID of the session key to pay from")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Amount in USDC (e.g. 5.50)")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient Solana wallet address (base58)")),
	mcp.WithString("description",
		mcp.Description("What this payment is for")),
)

var ToolEnableAutonomy = mcp.NewTool("enable_autonomy",
	mcp.WithDescription(
		"Enable autonomous payments for a session key. "+
			"Signs a delegation message with the session key (proof of user consent) and "+
			"registers a spending-limited, time-bound delegate with the backend. "+
			"After this, payments up to the limit need no per-transaction approval."),
	mcp.WithString("session_key_id",
		mcp.Required(),
		mcp.Description("UUID of the session key")),
	mcp.WithNumber("max_amount_usd",
		mcp.Required(),
		mcp.Description("Maximum total autonomous spending in USD")),
	mcp.WithNumber("duration_hours",
		mcp.Required(),
		mcp.Description("How long autonomy lasts, 1 to 168 hours")),
	mcp.WithString("pin",
		mcp.Description("6-digit PIN, required if the session key is locked")),
)

var ToolRevokeAutonomy = mcp.NewTool("revoke_autonomy",
	mcp.WithDescription(
		"Immediately revoke autonomous payments for a session key. "+
			"The session key itself stays valid for manually approved payments."),
	mcp.WithString("session_key_id",
		mcp.Required(),
		mcp.Description("UUID of the session key")),
	mcp.WithString("reason",
		mcp.Description("Reason for revocation (kept for audit)")),
)

var ToolVerifyAttestations = mcp.NewTool("verify_attestations",
	mcp.WithDescription(
		"Fetch and cryptographically verify the spending attestation trail for an "+
			"autonomous delegate. Checks every Ed25519 signature and that the spending "+
			"sequence is consistent (non-decreasing spend, correct remaining balances, "+
			"unique nonces). Use this to audit that spending limits were actually enforced."),
	mcp.WithString("delegate_id",
		mcp.Required(),
		mcp.Description("UUID of the autonomous delegate")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check a session key's remaining balance, amount spent, total limit, and expiry."),
	mcp.WithString("session_key_id",
		mcp.Required(),
		mcp.Description("UUID of the session key")),
)

var ToolSearchMarketplace = mcp.NewTool("search_marketplace",
	mcp.WithDescription(
		"Search the ZendFi agent marketplace for service providers. "+
			"Returns providers sorted cheapest first with pricing and reputation."),
	mcp.WithString("service_type",
		mcp.Required(),
		mcp.Description("Type of service (e.g. 'gpt4-tokens', 'image-generation')")),
	mcp.WithNumber("max_price",
		mcp.Description("Maximum price per unit filter")),
	mcp.WithNumber("min_reputation",
		mcp.Description("Minimum reputation score, 0 to 5")),
)
