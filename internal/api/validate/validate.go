package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mycelian/mycelian-chat/internal/estimator"
)

// UserID: letters, digits, underscore, hyphen, dot; 1-64 chars
var userIDRx = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// ConversationID: printable, no whitespace or path separators, 1-128 chars
var conversationIDRx = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

const (
	MaxInputBytes   = 100_000
	MaxRecallK      = 50
	MaxHistoryLimit = 500
)

func NonEmpty(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func UserID(v string) error {
	if v == "" {
		return fmt.Errorf("userId is required")
	}
	if !userIDRx.MatchString(v) {
		return fmt.Errorf("userId must be 1-64 letters, digits, '.', '_' or '-'")
	}
	return nil
}

func ConversationID(v string) error {
	if v == "" {
		return fmt.Errorf("conversationId is required")
	}
	if !conversationIDRx.MatchString(v) {
		return fmt.Errorf("conversationId contains invalid characters")
	}
	return nil
}

// Provider accepts the supported families case-insensitively.
func Provider(v string) error {
	switch estimator.CanonicalProvider(v) {
	case estimator.OpenAI, estimator.Anthropic, estimator.Gemini:
		return nil
	}
	return fmt.Errorf("unsupported provider %q", v)
}

func Input(v string) error {
	if err := NonEmpty("input", v); err != nil {
		return err
	}
	if len(v) > MaxInputBytes {
		return fmt.Errorf("input exceeds %d bytes", MaxInputBytes)
	}
	return nil
}

func Threshold(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("threshold must be within [0,1]")
	}
	return nil
}

// Range checks an optional integer; zero means unset.
func Range(field string, v, max int) error {
	if v < 0 || v > max {
		return fmt.Errorf("%s must be between 1 and %d", field, max)
	}
	return nil
}

// -------- Request specific helpers ----------

// Turn validates the caller-controlled fields of a turn request.
func Turn(userID, conversationID, input, provider string) error {
	if err := UserID(userID); err != nil {
		return err
	}
	if err := ConversationID(conversationID); err != nil {
		return err
	}
	if err := Provider(provider); err != nil {
		return err
	}
	return Input(input)
}

func Recall(userID, conversationID, query string, k int, threshold *float64) error {
	if err := UserID(userID); err != nil {
		return err
	}
	if conversationID != "" {
		if err := ConversationID(conversationID); err != nil {
			return err
		}
	}
	if err := NonEmpty("query", query); err != nil {
		return err
	}
	if err := Range("k", k, MaxRecallK); err != nil {
		return err
	}
	if threshold != nil {
		return Threshold(*threshold)
	}
	return nil
}
