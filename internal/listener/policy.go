package listener

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingPolicy decides when raw payload text is attached to a record.
type LoggingPolicy int

const (
	OnFailure LoggingPolicy = iota
	Always
	Never
)

var policyLabels = map[LoggingPolicy]string{
	Always:    "Always",
	OnFailure: "OnFailure",
	Never:     "Never",
}

func (p LoggingPolicy) String() string {
	if label, ok := policyLabels[p]; ok {
		return label
	}
	return policyLabels[OnFailure]
}

// ShouldLog reports whether a sample with the given outcome gets its payload logged.
func (p LoggingPolicy) ShouldLog(success bool) bool {
	return p == Always || (p == OnFailure && !success)
}

// ParseLoggingPolicy matches value case-insensitively against the policy
// labels. Anything else falls back to OnFailure with a warning.
func ParseLoggingPolicy(value string, log *logrus.Entry) LoggingPolicy {
	for _, p := range []LoggingPolicy{Always, OnFailure, Never} {
		if strings.EqualFold(policyLabels[p], value) {
			return p
		}
	}
	if log != nil {
		log.WithField("value", value).Warn("invalid logging policy, defaulting to OnFailure")
	}
	return OnFailure
}
