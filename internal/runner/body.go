package runner

import (
	"bufio"
	"bytes"
	"math/rand"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BodyVars describes the sample a request body is rendered for. The same
// label and thread name end up on the sample, so a body can be correlated
// with the telemetry record it produces.
type BodyVars struct {
	Label      string
	ThreadName string
	UserID     string
	RequestID  string
	Seq        int64
	Time       time.Time
}

// JMeter-style shorthands accepted in bodies.
var bodyShorthands = strings.NewReplacer(
	"{{label}}", "{{.Label}}",
	"{{threadName}}", "{{.ThreadName}}",
	"{{userID}}", "{{.UserID}}",
	"{{requestID}}", "{{.RequestID}}",
	"{{uuid}}", "{{.RequestID}}",
	"{{seq}}", "{{.Seq}}",
	"{{timestamp}}", "{{millis .Time}}",
)

// bodyTemplate renders one configured request body per request.
type bodyTemplate struct {
	tmpl  *template.Template
	lines *linePool
}

func parseBody(text string) (*bodyTemplate, error) {
	b := &bodyTemplate{lines: &linePool{files: map[string][]string{}}}
	funcs := template.FuncMap{
		"randomInt":    randomInt,
		"randomChoice": randomChoice,
		"randomLine":   b.lines.pick,
		"uuid":         uuid.NewString,
		"millis":       func(t time.Time) int64 { return t.UnixMilli() },
	}
	tmpl, err := template.New("body").Funcs(funcs).Parse(bodyShorthands.Replace(text))
	if err != nil {
		return nil, errors.Wrap(err, "parse body template")
	}
	b.tmpl = tmpl
	return b, nil
}

func (b *bodyTemplate) render(vars BodyVars) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, vars); err != nil {
		return "", errors.Wrapf(err, "render body for %q", vars.Label)
	}
	return buf.String(), nil
}

// randomInt returns a value in [lo, hi). An empty range yields lo.
func randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return rand.Intn(hi-lo) + lo
}

func randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}

// linePool serves random non-blank lines of data files, each read once.
type linePool struct {
	mu    sync.Mutex
	files map[string][]string
}

func (p *linePool) pick(filename string) (string, error) {
	p.mu.Lock()
	lines, ok := p.files[filename]
	if !ok {
		var err error
		if lines, err = readLines(filename); err != nil {
			p.mu.Unlock()
			return "", err
		}
		p.files[filename] = lines
	}
	p.mu.Unlock()

	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.Intn(len(lines))], nil
}

func readLines(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open data file %s", filename)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, errors.Wrapf(sc.Err(), "read data file %s", filename)
}
