package conf

import (
	"encoding/json"
	"time"
)

// StringDuration is a duration that is marshaled/unmarshaled as a string
// in configuration files (e.g. "2s", "500ms") but behaves as a
// time.Duration everywhere else.
type StringDuration time.Duration

// MarshalJSON implements json.Marshaler.
func (d StringDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *StringDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	du, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = StringDuration(du)
	return nil
}

// AsDuration returns d as a time.Duration.
func (d StringDuration) AsDuration() time.Duration {
	return time.Duration(d)
}
