package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of the candle test.
type Verdict string

const (
	VerdictProceed     Verdict = "proceed"
	VerdictStop        Verdict = "stop"
	VerdictAskGuardian Verdict = "ask_guardian"
)

// CandleResult is the scored outcome of one candle test.
type CandleResult struct {
	Action     string   `json:"action"`
	Verdict    Verdict  `json:"verdict"`
	Confidence int      `json:"confidence"`
	Burn       int      `json:"burn"`
	Light      int      `json:"light"`
	Reasons    []string `json:"reasons,omitempty"`
}

type rule struct {
	re     *regexp.Regexp
	reason string
}

func newRule(expr, reason string) rule {
	return rule{re: regexp.MustCompile(`(?i)` + expr), reason: reason}
}

// 烧毁: 可能造成伤害的动作
var burnRules = []rule{
	newRule(`\b(elimin\w*|cancell\w*|delete\w*|remov\w*|rimuov\w*|distrugg\w*|destroy\w*)\b`, "deletes something"),
	newRule(`\b(sovrascriv\w*|overwrit\w*|sostituisc\w*)\b`, "overwrites existing data"),
	newRule(`\b(pagament\w*|pagare|paga|pay|payment\w*|acquist\w*|purchase\w*|bonifico)\b`, "moves money"),
	newRule(`\b(pubblic\w*|publish\w*|divulg\w*)\b`, "publishes outside the circle"),
	newRule(`\b(password\w*|credenzial\w*|credential\w*|token|api[ _-]?key)\b`, "handles credentials"),
	newRule(`\b(ingann\w*|menti\w*|deceiv\w*|manipol\w*|manipulat\w*)\b`, "deceives someone"),
}

// 照亮: 有益的动作
var lightRules = []rule{
	newRule(`\b(salva\w*|save\w*|memorizz\w*|archivi\w*)\b`, "preserves something"),
	newRule(`\b(crea\w*|create\w*|costrui\w*|build\w*|scriv\w*|write\w*)\b`, "creates something"),
	newRule(`\b(aiut\w*|help\w*|support\w*|assist\w*)\b`, "helps someone"),
	newRule(`\b(cerca\w*|ricerc\w*|search\w*|trova\w*|find\w*)\b`, "looks for knowledge"),
	newRule(`\b(protegg\w*|protezion\w*|protect\w*|custodi\w*)\b`, "protects someone"),
	newRule(`\b(backup|back up|copia di sicurezza)\b`, "keeps a backup"),
}

var (
	userRule   = newRule(`\b(user|users|utente|utenti)\b`, "affects the user")
	memoryRule = newRule(`\b(memory|memories|memoria|memorie|ricord\w*)\b`, "tends the shared memory")
)

// CandleTest scores a proposed action: does it illuminate or burn?
type CandleTest struct {
	operator *regexp.Regexp
}

// NewCandleTest creates the heuristic. Mentions of operator count as light.
func NewCandleTest(operator string) *CandleTest {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = DefaultOperatorName
	}
	return &CandleTest{operator: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(operator) + `\b`)}
}

// Evaluate scores action. The first satisfied verdict rule wins.
func (c *CandleTest) Evaluate(action string) CandleResult {
	res := CandleResult{Action: action}

	for _, r := range burnRules {
		if r.re.MatchString(action) {
			res.Burn++
			res.Reasons = append(res.Reasons, "🔥 "+r.reason)
		}
	}
	for _, r := range lightRules {
		if r.re.MatchString(action) {
			res.Light++
			res.Reasons = append(res.Reasons, "✨ "+r.reason)
		}
	}

	if res.Burn > 0 && userRule.re.MatchString(action) {
		res.Burn++
		res.Reasons = append(res.Reasons, "🔥 "+userRule.reason)
	}
	if memoryRule.re.MatchString(action) {
		res.Light++
		res.Reasons = append(res.Reasons, "✨ "+memoryRule.reason)
	}
	if c.operator.MatchString(action) {
		res.Light++
		res.Reasons = append(res.Reasons, "✨ involves the operator")
	}

	switch {
	case res.Burn == 0 && res.Light > 0:
		res.Verdict, res.Confidence = VerdictProceed, min(95, 60+res.Light*10)
	case res.Burn > res.Light && res.Burn >= 2:
		res.Verdict, res.Confidence = VerdictStop, min(95, 60+res.Burn*10)
	case res.Burn > 0 && res.Burn <= res.Light:
		res.Verdict, res.Confidence = VerdictAskGuardian, 50+(res.Light-res.Burn)*5
	case res.Burn > res.Light && res.Burn < 2:
		res.Verdict, res.Confidence = VerdictAskGuardian, 50
	default:
		res.Verdict, res.Confidence = VerdictProceed, 50
	}
	return res
}

// Format renders the verdict as the visible replacement for the tag.
func (r CandleResult) Format() string {
	var icon string
	switch r.Verdict {
	case VerdictProceed:
		icon = "🕯️"
	case VerdictStop:
		icon = "🛑"
	default:
		icon = "🤔"
	}
	s := fmt.Sprintf("%s candle test: %s (%d%%)", icon, r.Verdict, r.Confidence)
	if len(r.Reasons) > 0 {
		s += " · " + strings.Join(r.Reasons, ", ")
	}
	return s
}
