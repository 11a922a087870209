package conf

import (
	"encoding/json"

	"code.cloudfoundry.org/bytefmt"
)

// SizeBytes is a byte quantity that is marshaled/unmarshaled as a
// human-readable string (e.g. "50MB") in configuration files.
type SizeBytes uint64

// MarshalJSON implements json.Marshaler.
func (s SizeBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(bytefmt.ByteSize(uint64(s)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SizeBytes) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}

	n, err := bytefmt.ToBytes(str)
	if err != nil {
		return err
	}

	*s = SizeBytes(n)
	return nil
}
