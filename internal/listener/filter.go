package listener

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
)

// Separator splits list-valued parameters.
const Separator = ";"

// ErrInvalidFilter marks a sampler allow-list that cannot be compiled.
var ErrInvalidFilter = errors.New("listener: invalid sampler filter")

// Filter decides which samples are reported, by exact label membership or
// by a full-match regular expression.
//
// Labels are matched as-is in both modes. Set entries are not trimmed, so
// "A; B" admits " B" but not "B".
type Filter struct {
	allowList string
	regex     *regexp2.Regexp
	set       map[string]struct{}
}

// NewFilter builds a filter for allowList. An empty allowList admits every
// sample. matchTimeout bounds a single regex evaluation; zero means no bound.
func NewFilter(allowList string, useRegex bool, matchTimeout time.Duration) (*Filter, error) {
	f := &Filter{allowList: allowList, set: map[string]struct{}{}}
	if allowList == "" {
		return f, nil
	}

	if useRegex {
		re, err := regexp2.Compile(`\A(?:`+allowList+`)\z`, regexp2.None)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidFilter, "%q: %v", allowList, err)
		}
		if matchTimeout > 0 {
			re.MatchTimeout = matchTimeout
		}
		f.regex = re
		return f, nil
	}

	for _, entry := range splitList(allowList) {
		f.set[entry] = struct{}{}
	}
	return f, nil
}

// Allow reports whether a sample labelled label should be reported.
func (f *Filter) Allow(label string) (bool, error) {
	switch {
	case f.allowList == "":
		return true, nil
	case f.regex != nil:
		ok, err := f.regex.MatchString(label)
		if err != nil {
			return false, errors.Wrapf(err, "match label %q", label)
		}
		return ok, nil
	default:
		_, ok := f.set[label]
		return ok, nil
	}
}

// Entries returns the exact-match entries. Empty in regex mode.
func (f *Filter) Entries() []string {
	out := make([]string, 0, len(f.set))
	for e := range f.set {
		out = append(out, e)
	}
	return out
}

// Reset drops the exact-match set. It must not run concurrently with Allow.
func (f *Filter) Reset() {
	clear(f.set)
}

// splitList splits on Separator and drops trailing empty entries, matching
// how the load engine splits its list parameters.
func splitList(s string) []string {
	parts := strings.Split(s, Separator)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
