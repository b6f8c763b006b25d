package risk

import (
	"fmt"
	"sort"
	"strings"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// DefaultFeeRates returns the per-class commission in basis points.
func DefaultFeeRates() map[domain.InstrumentClass]float64 {
	return map[domain.InstrumentClass]float64{
		domain.ClassCrypto:      5,
		domain.ClassForex:       2.5,
		domain.ClassMetals:      2.5,
		domain.ClassCommodities: 2.5,
	}
}

// FeeSchedule resolves the commission rate of a symbol through its instrument class.
type FeeSchedule struct {
	Rates        map[domain.InstrumentClass]float64 // basis points per class
	Classes      map[string]domain.InstrumentClass  // symbol to class
	DefaultClass domain.InstrumentClass             // used for unmapped symbols; empty means none
}

// ClassOf returns the instrument class of symbol.
func (f FeeSchedule) ClassOf(symbol string) (domain.InstrumentClass, error) {
	if class, ok := f.Classes[symbol]; ok {
		return class, nil
	}
	if f.DefaultClass != "" {
		return f.DefaultClass, nil
	}
	return "", fmt.Errorf("%w: no class mapped for symbol %s", ports.ErrUnknownInstrumentClass, symbol)
}

// RateBP returns the commission rate of symbol in basis points.
func (f FeeSchedule) RateBP(symbol string) (float64, error) {
	class, err := f.ClassOf(symbol)
	if err != nil {
		return 0, err
	}
	rate, ok := f.Rates[class]
	if !ok {
		return 0, fmt.Errorf("%w: %q (symbol %s)", ports.ErrUnknownInstrumentClass, class, symbol)
	}
	return rate, nil
}

// Fee returns the one-sided commission for trading notional of symbol.
func (f FeeSchedule) Fee(symbol string, notional float64) (float64, error) {
	rate, err := f.RateBP(symbol)
	if err != nil {
		return 0, err
	}
	return domain.Fee(notional, rate)
}

// Validate checks that every mapped class has a rate.
func (f FeeSchedule) Validate() error {
	var errs []string
	for class, rate := range f.Rates {
		if rate < 0 {
			errs = append(errs, fmt.Sprintf("negative fee rate for %s", class))
		}
	}
	symbols := make([]string, 0, len(f.Classes))
	for s := range f.Classes {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		if _, ok := f.Rates[f.Classes[s]]; !ok {
			errs = append(errs, fmt.Sprintf("symbol %s uses class %q with no fee rate", s, f.Classes[s]))
		}
	}
	if f.DefaultClass != "" {
		if _, ok := f.Rates[f.DefaultClass]; !ok {
			errs = append(errs, fmt.Sprintf("default class %q has no fee rate", f.DefaultClass))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrUnknownInstrumentClass, strings.Join(errs, "; "))
	}
	return nil
}

// ParseClassMap parses "SYMBOL=class,SYMBOL=class" pairs.
func ParseClassMap(s string) (map[string]domain.InstrumentClass, error) {
	out := make(map[string]domain.InstrumentClass)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		symbol, class, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || symbol == "" || class == "" {
			return nil, fmt.Errorf("malformed instrument class pair %q", pair)
		}
		out[strings.ToUpper(strings.TrimSpace(symbol))] = domain.InstrumentClass(strings.ToLower(strings.TrimSpace(class)))
	}
	return out, nil
}
