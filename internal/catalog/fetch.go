package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"perpflow/internal/venue"
)

// fetchBingX lists BingX perpetual swaps. Only contracts whose API trading
// state is open make it into the catalog.
func (c *Catalog) fetchBingX(ctx context.Context) ([]Contract, error) {
	var body struct {
		Data []struct {
			Symbol           string `json:"symbol"`
			Asset            string `json:"asset"`
			Currency         string `json:"currency"`
			LaunchTime       any    `json:"launchTime"`
			TradeMinQuantity any    `json:"tradeMinQuantity"`
			APIStateOpen     string `json:"apiStateOpen"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.urls.BingXContracts, &body); err != nil {
		return nil, err
	}

	var contracts []Contract
	for _, raw := range body.Data {
		if raw.APIStateOpen != "true" {
			continue
		}
		base := raw.Asset
		if base == "" {
			base, _, _ = strings.Cut(raw.Symbol, "-")
		}
		quote := raw.Currency
		if quote == "" {
			quote = "USDT"
		}
		contracts = append(contracts, Contract{
			Symbol:      raw.Symbol,
			BaseCoin:    base,
			QuoteCoin:   quote,
			Venue:       venue.BingX,
			ListTime:    int64(venue.Float(raw.LaunchTime)),
			MaxLeverage: 100, // not exposed on the contracts endpoint
			MinSize:     venue.Float(raw.TradeMinQuantity),
			APIEnabled:  true,
		})
	}
	return contracts, nil
}

// fetchBloFin lists BloFin swap instruments in the "live" state. BloFin
// serializes every numeric field as a string.
func (c *Catalog) fetchBloFin(ctx context.Context) ([]Contract, error) {
	var body struct {
		Data []struct {
			InstID        string `json:"instId"`
			BaseCurrency  string `json:"baseCurrency"`
			QuoteCurrency string `json:"quoteCurrency"`
			ListTime      any    `json:"listTime"`
			MaxLeverage   any    `json:"maxLeverage"`
			MinSize       any    `json:"minSize"`
			State         string `json:"state"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.urls.BloFinContracts, &body); err != nil {
		return nil, err
	}

	var contracts []Contract
	for _, raw := range body.Data {
		if raw.State != "live" {
			continue
		}
		base := raw.BaseCurrency
		if base == "" {
			base, _, _ = strings.Cut(raw.InstID, "-")
		}
		quote := raw.QuoteCurrency
		if quote == "" {
			quote = "USDT"
		}
		contracts = append(contracts, Contract{
			Symbol:      raw.InstID,
			BaseCoin:    base,
			QuoteCoin:   quote,
			Venue:       venue.BloFin,
			ListTime:    int64(venue.Float(raw.ListTime)),
			MaxLeverage: int(venue.Float(raw.MaxLeverage)),
			MinSize:     venue.Float(raw.MinSize),
			APIEnabled:  true,
		})
	}
	return contracts, nil
}

// fetchHyperliquid lists the perp universe. Hyperliquid does not expose
// listing times, so entries get synthetic recent timestamps staggered by
// index to keep a stable ordering.
func (c *Catalog) fetchHyperliquid(ctx context.Context) ([]Contract, error) {
	payload := []byte(`{"type":"meta"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urls.HyperliquidInfo, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid meta: status %d", resp.StatusCode)
	}

	var body struct {
		Universe []struct {
			Name        string `json:"name"`
			MaxLeverage any    `json:"maxLeverage"`
			SzDecimals  any    `json:"szDecimals"`
		} `json:"universe"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	baseTime := time.Now().Add(-3 * 24 * time.Hour).UnixMilli()

	contracts := make([]Contract, 0, len(body.Universe))
	for i, raw := range body.Universe {
		lev := int(venue.Float(raw.MaxLeverage))
		if lev == 0 {
			lev = 50
		}
		contracts = append(contracts, Contract{
			Symbol:      raw.Name,
			BaseCoin:    raw.Name,
			QuoteCoin:   "USD",
			Venue:       venue.Hyperliquid,
			ListTime:    baseTime - int64(i)*1000,
			MaxLeverage: lev,
			MinSize:     venue.Float(raw.SzDecimals),
			APIEnabled:  true,
		})
	}
	return contracts, nil
}

func (c *Catalog) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
