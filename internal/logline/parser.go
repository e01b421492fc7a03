// Package logline extracts per-worker latency samples from application log lines.
package logline

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const anyRole = `[a-z][a-z0-9_-]*`

// Parser matches lines shaped like
//
//	app[web.3]: ... "GET / HTTP/1.1" 200 5120 0.042
//
// where the last three fields are status, response bytes and latency in seconds.
type Parser struct {
	re *regexp.Regexp
}

// NewParser builds a parser for one worker role. An empty role accepts any role.
func NewParser(role string) *Parser {
	roleExpr := anyRole
	if role != "" {
		roleExpr = regexp.QuoteMeta(role)
	}
	pattern := `app\[(?P<worker>` + roleExpr + `\.[0-9]+)\].* (?P<status>[0-9]{3}) (?P<bytes>[0-9]+) (?P<seconds>[0-9]*\.?[0-9]+)$`
	return &Parser{re: regexp.MustCompile(pattern)}
}

// Parse returns the worker and latency for a matching line. Lines that do not
// match, or whose latency is not a finite number, yield ok=false.
func (p *Parser) Parse(line string) (models.WorkerID, float64, bool) {
	line = strings.TrimRight(line, " \t\r\n")
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	seconds, err := strconv.ParseFloat(m[4], 64)
	if err != nil || math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds < 0 {
		return "", 0, false
	}
	return models.WorkerID(m[1]), seconds, true
}
