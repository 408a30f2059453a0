package telemetry

import (
	"strings"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// Rule maps every channel whose lower-cased name contains Keyword to Variable.
type Rule struct {
	Keyword  string
	Variable string
}

// DefaultRules is the channel mapping applied when a Reducer has no rules of its own.
var DefaultRules = []Rule{
	{Keyword: "temp", Variable: types.VarTemperature},
	{Keyword: "water", Variable: types.VarMoisture},
	{Keyword: "moisture", Variable: types.VarMoisture},
	{Keyword: "ph", Variable: types.VarPH},
}

// Normalize returns the variable the first matching rule assigns to channel.
func Normalize(rules []Rule, channel string) (string, bool) {
	name := strings.ToLower(channel)
	for _, r := range rules {
		if r.Keyword != "" && strings.Contains(name, strings.ToLower(r.Keyword)) {
			return r.Variable, true
		}
	}
	return "", false
}
