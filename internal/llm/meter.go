package llm

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nulzo/model-playground/pkg/api"
)

// Meter carries a provider's price table and context window and implements the
// token and cost parts of Provider. Adapters embed it.
type Meter struct {
	Price  api.Pricing // per 1000 tokens
	Window int
}

// EstimateTokens weights whitespace-delimited words by 1.3 and CJK ideographs
// (U+4E00..U+9FFF) by 1.0, rounded up.
func (m Meter) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

func (m Meter) CalculateCost(inputTokens, outputTokens int) float64 {
	return CalculateCost(m.Price, inputTokens, outputTokens)
}

func (m Meter) MaxTokens() int {
	return m.Window
}

func (m Meter) Pricing() api.Pricing {
	return m.Price
}

// EstimateTokens is computed in tenths to keep the ceiling exact. Empty or
// whitespace-only text has no words and estimates to 0.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	cjk := 0
	for len(text) > 0 {
		r, size := utf8.DecodeRuneInString(text)
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		}
		text = text[size:]
	}
	return (words*13 + cjk*10 + 9) / 10
}

func CalculateCost(p api.Pricing, inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1000
}

// WithOverrides applies input_price, output_price and max_tokens from a provider's
// free-form config map. Unparseable values are ignored.
func (m Meter) WithOverrides(cfg map[string]string) Meter {
	if v, ok := parseFloat(cfg, "input_price"); ok {
		m.Price.Input = v
	}
	if v, ok := parseFloat(cfg, "output_price"); ok {
		m.Price.Output = v
	}
	if v, ok := cfg["max_tokens"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m.Window = n
		}
	}
	return m
}

func parseFloat(cfg map[string]string, key string) (float64, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}
