package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexFloat accepts a JSON number, a numeric string, or null. Gamma is not
// consistent about which one it sends for volume and liquidity.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// stringList decodes either a JSON array of strings or a string holding a
// JSON-encoded array, which is how Gamma ships outcomes and outcomePrices.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = nil
		return nil
	}

	var direct []string
	if err := json.Unmarshal(b, &direct); err == nil {
		*l = direct
		return nil
	}

	var encoded string
	if err := json.Unmarshal(b, &encoded); err != nil {
		return err
	}
	if encoded == "" {
		*l = nil
		return nil
	}
	return json.Unmarshal([]byte(encoded), (*[]string)(l))
}

type gammaMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	EndDate       string     `json:"endDate"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	Volume24hr    flexFloat  `json:"volume24hr"`
	Liquidity     flexFloat  `json:"liquidity"`
	Active        *bool      `json:"active"`
	Closed        bool       `json:"closed"`
}

type gammaEvent struct {
	ID         string        `json:"id"`
	Slug       string        `json:"slug"`
	Title      string        `json:"title"`
	EndDate    string        `json:"endDate"`
	Volume24hr flexFloat     `json:"volume24hr"`
	Liquidity  flexFloat     `json:"liquidity"`
	Active     *bool         `json:"active"`
	Markets    []gammaMarket `json:"markets"`
}
