package conf

import (
	"encoding/json"
	"fmt"
)

// Media identifies an elementary stream kind expected by a muxer.
type Media int

// supported media kinds.
const (
	MediaAudio Media = iota
	MediaVideo
)

// ExpectedMedias is the expected_medias configuration parameter: the
// subset of {audio, video} a muxer must see configured before it is
// allowed to start emitting. An empty set means "emit whatever arrives".
type ExpectedMedias map[Media]struct{}

// MarshalJSON marshals an ExpectedMedias into JSON.
func (d ExpectedMedias) MarshalJSON() ([]byte, error) {
	out := make([]string, 0, len(d))

	for m := range d {
		switch m {
		case MediaAudio:
			out = append(out, "audio")
		case MediaVideo:
			out = append(out, "video")
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON unmarshals an ExpectedMedias from JSON.
func (d *ExpectedMedias) UnmarshalJSON(b []byte) error {
	var in []string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	*d = make(ExpectedMedias)

	for _, m := range in {
		switch m {
		case "audio":
			(*d)[MediaAudio] = struct{}{}
		case "video":
			(*d)[MediaVideo] = struct{}{}
		default:
			return fmt.Errorf("invalid media: %s", m)
		}
	}

	return nil
}
