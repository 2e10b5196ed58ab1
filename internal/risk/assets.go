package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Asset classes understood by RiskLimits.AllowedAssetClasses.
const (
	ClassCrypto     = "crypto"
	ClassStablecoin = "stablecoin"
	ClassDeFi       = "defi"
)

// AssetClassifier maps an asset to its class.
type AssetClassifier struct {
	stablecoins map[string]bool
	explicit    map[string]string
	fallback    string
}

// DefaultStablecoins lists the assets classified as stablecoin out of the box.
var DefaultStablecoins = []string{"USDT", "USDC", "BUSD", "DAI", "TUSD", "FDUSD"}

// defaultDeFi lists governance tokens of lending and exchange protocols.
var defaultDeFi = map[string]string{
	"UNI":   ClassDeFi,
	"AAVE":  ClassDeFi,
	"COMP":  ClassDeFi,
	"MKR":   ClassDeFi,
	"CRV":   ClassDeFi,
	"SUSHI": ClassDeFi,
}

// NewAssetClassifier creates a classifier. explicit overrides the stablecoin
// set and the built-in DeFi map; anything else is ClassCrypto.
func NewAssetClassifier(stablecoins []string, explicit map[string]string) *AssetClassifier {
	if stablecoins == nil {
		stablecoins = DefaultStablecoins
	}
	c := &AssetClassifier{
		stablecoins: make(map[string]bool, len(stablecoins)),
		explicit:    make(map[string]string, len(defaultDeFi)+len(explicit)),
		fallback:    ClassCrypto,
	}
	for _, s := range stablecoins {
		c.stablecoins[strings.ToUpper(s)] = true
	}
	for asset, class := range defaultDeFi {
		c.explicit[asset] = class
	}
	for asset, class := range explicit {
		c.explicit[strings.ToUpper(asset)] = strings.ToLower(class)
	}
	return c
}

// Classify returns the class of asset.
func (c *AssetClassifier) Classify(asset string) string {
	asset = strings.ToUpper(asset)
	if class, ok := c.explicit[asset]; ok {
		return class
	}
	if c.stablecoins[asset] {
		return ClassStablecoin
	}
	return c.fallback
}

// Correlations returns the return correlation of two assets in [-1, 1].
type Correlations interface {
	Correlation(a, b string) decimal.Decimal
}

// StaticCorrelations is a symmetric lookup table; unknown pairs correlate 0
// and an asset correlates 1 with itself.
type StaticCorrelations map[string]map[string]decimal.Decimal

// DefaultCorrelations returns a table for the major spot pairs.
func DefaultCorrelations() StaticCorrelations {
	d := decimal.RequireFromString
	c := StaticCorrelations{}
	c.Set("BTC", "ETH", d("0.85"))
	c.Set("BTC", "SOL", d("0.75"))
	c.Set("BTC", "BNB", d("0.70"))
	c.Set("ETH", "SOL", d("0.80"))
	c.Set("ETH", "BNB", d("0.72"))
	c.Set("SOL", "BNB", d("0.65"))
	return c
}

// Set records the correlation for both orderings of the pair.
func (s StaticCorrelations) Set(a, b string, corr decimal.Decimal) {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if s[a] == nil {
		s[a] = make(map[string]decimal.Decimal)
	}
	if s[b] == nil {
		s[b] = make(map[string]decimal.Decimal)
	}
	s[a][b] = corr
	s[b][a] = corr
}

// Correlation looks the pair up.
func (s StaticCorrelations) Correlation(a, b string) decimal.Decimal {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if a == b {
		return decimal.NewFromInt(1)
	}
	if row, ok := s[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return decimal.Zero
}
