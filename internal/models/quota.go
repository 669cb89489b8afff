package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Quota is an optional upper bound on consumed seconds.
// The zero value is Unlimited; a Limited quota of 0 blocks all usage.
type Quota struct {
	limited bool
	seconds float64
}

// Unlimited returns a quota with no upper bound.
func Unlimited() Quota {
	return Quota{}
}

// Limited returns a quota capped at the given number of seconds. Negative
// values are clamped to zero.
func Limited(seconds float64) Quota {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	return Quota{limited: true, seconds: seconds}
}

// QuotaFromPtr maps a nullable column value onto a Quota (nil means Unlimited).
func QuotaFromPtr(seconds *float64) Quota {
	if seconds == nil {
		return Unlimited()
	}
	return Limited(*seconds)
}

// IsUnlimited reports whether the quota has no upper bound.
func (q Quota) IsUnlimited() bool {
	return !q.limited
}

// Seconds returns the cap and true for a limited quota, or 0 and false.
func (q Quota) Seconds() (float64, bool) {
	return q.seconds, q.limited
}

// Ptr returns the cap as a nullable value (nil for Unlimited).
func (q Quota) Ptr() *float64 {
	if !q.limited {
		return nil
	}
	s := q.seconds
	return &s
}

// Exceeded reports whether consumed has reached the cap.
func (q Quota) Exceeded(consumed float64) bool {
	return q.limited && consumed >= q.seconds
}

// Remaining returns the seconds left under the cap and true, or 0 and false
// for an unlimited quota. The result may be negative after an overshoot.
func (q Quota) Remaining(consumed float64) (float64, bool) {
	if !q.limited {
		return 0, false
	}
	return q.seconds - consumed, true
}

func (q Quota) String() string {
	if !q.limited {
		return "unlimited"
	}
	return strconv.FormatFloat(q.seconds, 'f', -1, 64)
}

// Value implements driver.Valuer; Unlimited is stored as NULL.
func (q Quota) Value() (driver.Value, error) {
	if !q.limited {
		return nil, nil
	}
	return q.seconds, nil
}

// Scan implements sql.Scanner.
func (q *Quota) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*q = Unlimited()
	case float64:
		*q = Limited(v)
	case int64:
		*q = Limited(float64(v))
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return fmt.Errorf("Quota: invalid numeric %q: %w", v, err)
		}
		*q = Limited(f)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("Quota: invalid numeric %q: %w", v, err)
		}
		*q = Limited(f)
	default:
		return fmt.Errorf("Quota: unsupported type %T", value)
	}
	return nil
}

// MarshalJSON encodes Unlimited as null and Limited as a number.
func (q Quota) MarshalJSON() ([]byte, error) {
	if !q.limited {
		return []byte("null"), nil
	}
	return json.Marshal(q.seconds)
}

// UnmarshalJSON accepts null or a non-negative number.
func (q *Quota) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("Quota: %w", err)
	}
	if v != nil && *v < 0 {
		return fmt.Errorf("Quota: negative value %v", *v)
	}
	*q = QuotaFromPtr(v)
	return nil
}
