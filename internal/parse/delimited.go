package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Section labels of the delimited grammar. A label only counts at the start
// of a line, optionally wrapped in markdown bold.
var (
	labelText          = sectionLabel("TEXT:")
	labelCorrectedText = sectionLabel("CORRECTED_TEXT:")
	labelFixes         = sectionLabel("FIXES:")
	labelCoordinates   = sectionLabel("COORDINATES:")
)

var (
	confidenceLine = regexp.MustCompile(`(?m)^[ \t]*(?:\*\*)?CONFIDENCE:(?:\*\*)?[ \t]*(\d+(?:\.\d+)?)[ \t]*%?[ \t\r]*$`)
	trailingRule   = regexp.MustCompile(`(?:^|\n)[ \t]*-{3,}[ \t]*$`)
	tableRule      = regexp.MustCompile(`^[\s|:-]+$`)
	listMarker     = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

func sectionLabel(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*(?:\*\*)?` + regexp.QuoteMeta(name) + `(?:\*\*)?[ \t]*`)
}

// span is the byte range of a label match within a reply.
type span struct{ start, end int }

// firstLabel finds the first line-anchored match of re in s.
func firstLabel(re *regexp.Regexp, s string) (span, bool) {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return span{}, false
	}
	return span{loc[0], loc[1]}, true
}

// lastLabel finds the last line-anchored match of re in s that starts at or
// after from.
func lastLabel(re *regexp.Regexp, s string, from int) (span, bool) {
	locs := re.FindAllStringIndex(s, -1)
	if n := len(locs); n > 0 && locs[n-1][0] >= from {
		return span{locs[n-1][0], locs[n-1][1]}, true
	}
	return span{}, false
}

// sectionBody trims a section body and drops a closing "---" rule.
func sectionBody(body string) string {
	body = strings.TrimSpace(body)
	return strings.TrimSpace(trailingRule.ReplaceAllString(body, ""))
}

// Delimited parses the labelled text template. Missing sections fall back
// to defaults and rows that do not split into the expected fields are dropped.
type Delimited struct{}

// NewDelimited returns a delimited-text parser.
func NewDelimited() *Delimited { return &Delimited{} }

func (p *Delimited) Mode() string { return ModeDelimited }

// ParseOCR reads "TEXT: ... --- CONFIDENCE: n". Without a TEXT label the
// whole reply is the text; without CONFIDENCE the default score is used.
func (p *Delimited) ParseOCR(reply *domain.Reply) (domain.OCRResult, error) {
	raw, err := replyText(reply, kindOCR)
	if err != nil {
		return domain.OCRResult{}, err
	}

	out := domain.OCRResult{
		Text:       strings.TrimSpace(raw),
		Confidence: domain.DefaultConfidence,
	}

	from := 0
	text, hasText := firstLabel(labelText, raw)
	if hasText {
		from = text.end
	}

	bodyEnd := len(raw)
	confs := confidenceLine.FindAllStringSubmatchIndex(raw, -1)
	if n := len(confs); n > 0 && confs[n-1][0] >= from {
		last := confs[n-1]
		if c, err := strconv.ParseFloat(raw[last[2]:last[3]], 64); err == nil {
			out.Confidence = normalizeConfidence(c)
		}
		bodyEnd = last[0]
	}

	if hasText {
		out.Text = sectionBody(raw[text.end:bodyEnd])
	}
	return out, nil
}

// ParseQAC reads "CORRECTED_TEXT: ... --- FIXES: rows|None".
// Each fix row is "original | corrected | type | description".
func (p *Delimited) ParseQAC(reply *domain.Reply, originalText string) (domain.QACResult, error) {
	raw, err := replyText(reply, kindQAC)
	if err != nil {
		return domain.QACResult{}, err
	}

	out := domain.QACResult{CorrectedText: originalText, Fixes: []domain.Fix{}}

	corrected, hasCorrected := firstLabel(labelCorrectedText, raw)
	from := 0
	if hasCorrected {
		from = corrected.end
	}
	fixes, hasFixes := lastLabel(labelFixes, raw, from)

	switch {
	case hasCorrected:
		end := len(raw)
		if hasFixes {
			end = fixes.start
		}
		if body := sectionBody(raw[corrected.end:end]); body != "" {
			out.CorrectedText = body
		}
	case !hasFixes:
		out.CorrectedText = strings.TrimSpace(raw)
	}

	if hasFixes {
		for _, line := range rows(raw[fixes.end:]) {
			if tableRule.MatchString(line) {
				continue
			}
			line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
			parts := strings.SplitN(line, "|", 4)
			if len(parts) != 4 {
				continue
			}
			out.Fixes = append(out.Fixes, domain.Fix{
				Original:    strings.TrimSpace(parts[0]),
				Corrected:   strings.TrimSpace(parts[1]),
				Type:        strings.TrimSpace(parts[2]),
				Description: strings.TrimSpace(parts[3]),
			})
		}
	}
	return out, nil
}

// ParseDetection reads "COORDINATES: rows|None" where each row is
// "x, y, width, height[, description]" in percent.
func (p *Delimited) ParseDetection(reply *domain.Reply) ([]domain.Box, error) {
	raw, err := replyText(reply, kindDetect)
	if err != nil {
		return nil, err
	}

	boxes := []domain.Box{}
	coords, ok := lastLabel(labelCoordinates, raw, 0)
	if !ok {
		return boxes, nil
	}

	for _, line := range rows(raw[coords.end:]) {
		parts := strings.SplitN(line, ",", 5)
		if len(parts) < 4 {
			continue
		}
		var vals [4]float64
		ok := true
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(parts[i]), "%"), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		box := domain.Box{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
		if len(parts) == 5 {
			box.Description = strings.TrimSpace(parts[4])
		}
		if keepBox(box) {
			boxes = append(boxes, box)
		}
	}
	return boxes, nil
}

// rows splits a section body into trimmed non-empty lines with list
// markers removed. A body of "None" yields no rows.
func rows(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = listMarker.ReplaceAllString(line, "")
		if line == "" || strings.EqualFold(line, "none") || strings.EqualFold(line, "none.") {
			continue
		}
		out = append(out, line)
	}
	return out
}
