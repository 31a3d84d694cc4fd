package zendfi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/zendfi/zendfi-go/pkg/sessionkeys"
)

// PPPFactor is a purchasing-power-parity price adjustment for a country.
type PPPFactor struct {
	CountryCode          string  `json:"country_code"`
	CountryName          string  `json:"country_name"`
	PPPFactor            float64 `json:"ppp_factor"`
	CurrencyCode         string  `json:"currency_code"`
	AdjustmentPercentage float64 `json:"adjustment_percentage"`
}

// Provider is a service provider listed in the agent marketplace.
type Provider struct {
	AgentID      string  `json:"agent_id"`
	AgentName    string  `json:"agent_name"`
	ServiceType  string  `json:"service_type"`
	PricePerUnit float64 `json:"price_per_unit"`
	Wallet       string  `json:"wallet"`
	Reputation   float64 `json:"reputation"`
	Description  string  `json:"description,omitempty"`
	Available    bool    `json:"available"`
}

// MarketplaceFilter narrows SearchMarketplace results client-side.
type MarketplaceFilter struct {
	MaxPrice      float64 // 0 means no cap
	MinReputation float64
}

// GetPPPFactor fetches the PPP adjustment for an ISO 3166-1 alpha-2
// country code. The computation is backend-side; this is a lookup.
func (c *Client) GetPPPFactor(ctx context.Context, countryCode string) (*PPPFactor, error) {
	raw, err := c.Request(ctx, "POST", "/api/v1/ai/pricing/ppp-factor", map[string]any{
		"country_code": strings.ToUpper(countryCode),
	})
	if err != nil {
		return nil, err
	}

	var factor PPPFactor
	if err := json.Unmarshal(raw, &factor); err != nil {
		return nil, fmt.Errorf("decode ppp-factor response: %w", err)
	}
	return &factor, nil
}

// SearchMarketplace queries the agent registry for providers of a
// service type, filters out unavailable and non-matching entries, and
// returns the rest sorted cheapest first. A 404 means the marketplace is
// not enabled for this account and yields an empty result, not an error.
func (c *Client) SearchMarketplace(ctx context.Context, serviceType string, filter MarketplaceFilter) ([]Provider, error) {
	path := "/api/v1/marketplace/providers?service_type=" + url.QueryEscape(serviceType)
	raw, err := c.Request(ctx, "GET", path, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}

	var resp struct {
		Providers []struct {
			AgentID      string   `json:"agent_id"`
			AgentName    string   `json:"agent_name"`
			ServiceType  string   `json:"service_type"`
			PricePerUnit float64  `json:"price_per_unit"`
			Wallet       string   `json:"wallet"`
			Reputation   *float64 `json:"reputation"`
			Description  string   `json:"description"`
			Available    *bool    `json:"available"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode marketplace response: %w", err)
	}

	var providers []Provider
	for _, item := range resp.Providers {
		p := Provider{
			AgentID:      item.AgentID,
			AgentName:    item.AgentName,
			ServiceType:  item.ServiceType,
			PricePerUnit: item.PricePerUnit,
			Wallet:       item.Wallet,
			Reputation:   4.0,
			Description:  item.Description,
			Available:    true,
		}
		if item.Reputation != nil {
			p.Reputation = *item.Reputation
		}
		if item.Available != nil {
			p.Available = *item.Available
		}

		if !p.Available {
			continue
		}
		if filter.MaxPrice > 0 && p.PricePerUnit > filter.MaxPrice {
			continue
		}
		if p.Reputation < filter.MinReputation {
			continue
		}
		providers = append(providers, p)
	}

	sort.Slice(providers, func(i, j int) bool {
		return providers[i].PricePerUnit < providers[j].PricePerUnit
	})
	return providers, nil
}

// GetBalance reports a session key's spending state: limit, amount used,
// and remaining allowance.
func (c *Client) GetBalance(ctx context.Context, sessionKeyID string) (*sessionkeys.Info, error) {
	return c.sessionKeys.GetStatus(ctx, sessionKeyID)
}
