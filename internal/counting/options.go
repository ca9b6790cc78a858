package counting

import (
	"fmt"

	"github.com/vzahanych/footfall-counter/internal/geometry"
)

// ParseOptions builds classifier options from configured names. Empty
// names select the defaults.
func ParseOptions(strategy, sideTest, fallbackLabel string, classNames []string) (Options, error) {
	s := Strategy(strategy)
	switch s {
	case "":
		s = StrategySideChange
	case StrategySideChange, StrategyPathIntersection:
	default:
		return Options{}, fmt.Errorf("unknown counting strategy %q", strategy)
	}

	sideOf, err := geometry.SideFuncByName(sideTest)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Strategy:      s,
		SideTest:      sideOf,
		FallbackLabel: fallbackLabel,
		ClassNames:    append([]string(nil), classNames...),
	}, nil
}
