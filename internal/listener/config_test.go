package listener

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capturingLogger() (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logrus.NewEntry(l), &buf
}

func TestDefaultParameters(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Params{
		{Name: "testName", Value: "azrefapp"},
		{Name: "samplersList", Value: ""},
		{Name: "useRegexForSamplerList", Value: "false"},
		{Name: "logResponseData", Value: "OnFailure"},
		{Name: "logSampleData", Value: "OnFailure"},
	}, DefaultParameters())
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := ParseConfig(nil, nil)
	assert.Equal(t, DefaultTestName, cfg.TestName)
	assert.Empty(t, cfg.SamplersList)
	assert.False(t, cfg.UseRegex)
	assert.Empty(t, cfg.ResponseHeaders)
	assert.Empty(t, cfg.CustomProperties)
	assert.Equal(t, OnFailure, cfg.LogResponseData)
	assert.Equal(t, OnFailure, cfg.LogSampleData)
}

func TestParseConfig_AllKeys(t *testing.T) {
	t.Parallel()

	cfg := ParseConfig(Params{
		{Name: KeyTestName, Value: "checkout-soak"},
		{Name: KeySamplersList, Value: "  A;B  "},
		{Name: KeyUseRegexForSamplerList, Value: "True"},
		{Name: KeyResponseHeaders, Value: " AzRef-PodName ;AzRef-NodeIp;; "},
		{Name: KeyLogResponseData, Value: "always"},
		{Name: KeyLogSampleData, Value: "never"},
		{Name: "ai.env", Value: "staging"},
	}, nil)

	assert.Equal(t, "checkout-soak", cfg.TestName)
	assert.Equal(t, "A;B", cfg.SamplersList)
	assert.True(t, cfg.UseRegex)
	assert.Equal(t, []string{"azref-podname", "azref-nodeip"}, cfg.ResponseHeaders)
	assert.Equal(t, Always, cfg.LogResponseData)
	assert.Equal(t, Never, cfg.LogSampleData)
	assert.Equal(t, map[string]string{"ai.env": "staging"}, cfg.CustomProperties)
}

func TestParseConfig_OnlyTrueIsTrue(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"yes", "1", "on", " true", ""} {
		cfg := ParseConfig(Params{{Name: KeyUseRegexForSamplerList, Value: v}}, nil)
		assert.False(t, cfg.UseRegex, "%q", v)
	}
}

func TestParseConfig_LastValueWins(t *testing.T) {
	t.Parallel()

	cfg := ParseConfig(Params{
		{Name: KeyTestName, Value: "first"},
		{Name: KeyTestName, Value: "second"},
	}, nil)
	assert.Equal(t, "second", cfg.TestName)
}

func TestParseConfig_Warnings(t *testing.T) {
	t.Parallel()

	log, buf := capturingLogger()
	ParseConfig(Params{
		{Name: KeyTestName, Value: "quiet"},
		{Name: "threads", Value: "10"},
		{Name: "aih.podname", Value: "spoofed"},
		{Name: KeyLogSampleData, Value: "sometimes"},
	}, log)

	out := buf.String()
	assert.Contains(t, out, "extraneous parameter provided")
	assert.Contains(t, out, "param=threads")
	assert.Contains(t, out, "param=aih.podname")
	assert.Contains(t, out, "invalid logging policy")
	assert.NotContains(t, out, "param=testName")
}

func TestParams(t *testing.T) {
	t.Parallel()

	p := Params{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}, {Name: "a", Value: "3"}}
	v, ok := p.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, "dflt", p.GetOr("c", "dflt"))
	assert.Equal(t, []string{"a", "b"}, p.Names())

	p = p.Set("b", "20").Set("c", "30")
	assert.Equal(t, "20", p.GetOr("b", ""))
	assert.Equal(t, "30", p.GetOr("c", ""))

	assert.Equal(t, Params{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}},
		ParamsFromMap(map[string]string{"y": "2", "x": "1"}))
}
