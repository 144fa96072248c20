package detection

import (
	"fmt"
	"strings"

	"backup-sentinel/internal/logging"
)

// Signal names which evidence source fired
type Signal string

const (
	SignalFilename   Signal = "filename"
	SignalContent    Signal = "content"
	SignalEncryption Signal = "encryption"
	SignalError      Signal = "error"
)

// Verdict is the classifier's ransomware decision
type Verdict struct {
	Detected bool
	Evidence string
	Signals  []Signal
}

// Classifier combines filename, ransom-note and encryption signals.
// Any panic during classification yields a positive verdict.
type Classifier struct {
	signature *ThreatSignature
	logger    *logging.Logger
}

// NewClassifier creates a classifier over the default signature table
func NewClassifier(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Classifier{signature: DefaultSignature(), logger: logger}
}

// Classify decides whether the backup shows signs of ransomware
func (c *Classifier) Classify(location string, sample []byte, encryptionSuspected bool) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{
				Detected: true,
				Evidence: fmt.Sprintf("classification error: %v", r),
				Signals:  []Signal{SignalError},
			}
			if c != nil && c.logger != nil {
				c.logger.WithField("location", location).Errorf("classifier failed closed: %v", r)
			}
		}
	}()

	var evidence []string

	if ext, ok := c.signature.MatchLocation(location); ok {
		v.Signals = append(v.Signals, SignalFilename)
		evidence = append(evidence, fmt.Sprintf("suspicious file extension %q in %s", ext, location))
	}

	if tokens := c.signature.MatchContent(sample); len(tokens) > 0 {
		v.Signals = append(v.Signals, SignalContent)
		evidence = append(evidence, "ransom note tokens in content: "+strings.Join(tokens, ", "))
	}

	if encryptionSuspected {
		v.Signals = append(v.Signals, SignalEncryption)
		evidence = append(evidence, "sensitive fields appear encrypted")
	}

	v.Detected = len(v.Signals) > 0
	v.Evidence = strings.Join(evidence, "; ")
	return v
}
