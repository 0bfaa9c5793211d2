package listener

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Parameter keys understood by the listener.
const (
	KeyTestName               = "testName"
	KeySamplersList           = "samplersList"
	KeyUseRegexForSamplerList = "useRegexForSamplerList"
	KeyResponseHeaders        = "responseHeaders"
	KeyLogResponseData        = "logResponseData"
	KeyLogSampleData          = "logSampleData"

	// CustomPropertyPrefix marks parameters copied verbatim into every record.
	CustomPropertyPrefix = "ai."
	// HeaderPrefix namespaces extracted response headers in record properties.
	HeaderPrefix = "aih."
)

const (
	DefaultTestName     = "azrefapp"
	DefaultSamplersList = ""
	DefaultUseRegex     = false
	DefaultLogResponse  = OnFailure
	DefaultLogSample    = OnFailure
)

// Param is one host-provided configuration entry.
type Param struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Params is an ordered set of host parameters. When a name repeats, the
// last value wins.
type Params []Param

// Get returns the value of the last parameter called name.
func (p Params) Get(name string) (string, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Name == name {
			return p[i].Value, true
		}
	}
	return "", false
}

// GetOr returns the value of name, or def when it is absent.
func (p Params) GetOr(name, def string) string {
	if v, ok := p.Get(name); ok {
		return v
	}
	return def
}

// Names returns the distinct parameter names in first-seen order.
func (p Params) Names() []string {
	seen := make(map[string]struct{}, len(p))
	names := make([]string, 0, len(p))
	for _, param := range p {
		if _, ok := seen[param.Name]; ok {
			continue
		}
		seen[param.Name] = struct{}{}
		names = append(names, param.Name)
	}
	return names
}

// Set returns p with name set to value, replacing an existing entry in place.
func (p Params) Set(name, value string) Params {
	for i := range p {
		if p[i].Name == name {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Name: name, Value: value})
}

// ParamsFromMap builds Params from m in key order.
func ParamsFromMap(m map[string]string) Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Params, 0, len(keys))
	for _, k := range keys {
		out = append(out, Param{Name: k, Value: m[k]})
	}
	return out
}

// DefaultParameters lists the parameters a host should offer, with defaults.
func DefaultParameters() Params {
	return Params{
		{Name: KeyTestName, Value: DefaultTestName},
		{Name: KeySamplersList, Value: DefaultSamplersList},
		{Name: KeyUseRegexForSamplerList, Value: strconv.FormatBool(DefaultUseRegex)},
		{Name: KeyLogResponseData, Value: DefaultLogResponse.String()},
		{Name: KeyLogSampleData, Value: DefaultLogSample.String()},
	}
}

// Config is the resolved listener configuration. It is never modified
// after Setup returns.
type Config struct {
	TestName         string
	SamplersList     string
	UseRegex         bool
	ResponseHeaders  []string
	CustomProperties map[string]string
	LogResponseData  LoggingPolicy
	LogSampleData    LoggingPolicy
	TestStartTime    time.Time
}

var knownKeys = map[string]struct{}{
	KeyTestName:               {},
	KeySamplersList:           {},
	KeyUseRegexForSamplerList: {},
	KeyResponseHeaders:        {},
	KeyLogResponseData:        {},
	KeyLogSampleData:          {},
}

// ParseConfig resolves params into a Config. It never fails: unknown keys
// and bad policy values are logged and ignored or defaulted.
func ParseConfig(params Params, log *logrus.Entry) Config {
	if log == nil {
		log = logrusNop()
	}

	cfg := Config{
		TestName:         params.GetOr(KeyTestName, DefaultTestName),
		SamplersList:     strings.TrimSpace(params.GetOr(KeySamplersList, DefaultSamplersList)),
		UseRegex:         parseBool(params.GetOr(KeyUseRegexForSamplerList, "false")),
		CustomProperties: map[string]string{},
		LogResponseData:  ParseLoggingPolicy(params.GetOr(KeyLogResponseData, DefaultLogResponse.String()), log.WithField("param", KeyLogResponseData)),
		LogSampleData:    ParseLoggingPolicy(params.GetOr(KeyLogSampleData, DefaultLogSample.String()), log.WithField("param", KeyLogSampleData)),
	}

	for _, name := range params.Names() {
		value, _ := params.Get(name)
		switch {
		case strings.HasPrefix(name, CustomPropertyPrefix):
			cfg.CustomProperties[name] = value
		case name == KeyResponseHeaders:
			cfg.ResponseHeaders = parseHeaderNames(value)
		case strings.HasPrefix(name, HeaderPrefix):
			log.WithField("param", name).Warn("header properties are derived from responseHeaders, ignoring parameter")
		default:
			if _, ok := knownKeys[name]; !ok {
				log.WithField("param", name).Warn("extraneous parameter provided, ignoring")
			}
		}
	}

	return cfg
}

// parseBool follows the host convention: only "true", in any case, is true.
func parseBool(s string) bool {
	return strings.EqualFold(s, "true")
}

// parseHeaderNames lower-cases the list and splits it on the separator,
// dropping whitespace around separators and empty names.
func parseHeaderNames(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	var names []string
	for _, part := range splitList(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		names = append(names, part)
	}
	return names
}

func logrusNop() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
