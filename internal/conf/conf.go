// Package conf implements configuration loading for the muxer.
package conf

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/yaml.v2"

	"github.com/aler9/tsmux/internal/logger"
)

func decrypt(key string, byts []byte) ([]byte, error) {
	enc, err := base64.StdEncoding.DecodeString(string(byts))
	if err != nil {
		return nil, err
	}

	var secretKey [32]byte
	copy(secretKey[:], key)

	var decryptNonce [24]byte
	copy(decryptNonce[:], enc[:24])
	decrypted, ok := secretbox.Open(nil, enc[24:], &decryptNonce, &secretKey)
	if !ok {
		return nil, fmt.Errorf("decryption error")
	}

	return decrypted, nil
}

func loadFromFile(fpath string, conf *Conf) (bool, error) {
	// tsmux.yml is optional; any other path must exist
	if fpath == "tsmux.yml" {
		if _, err := os.Stat(fpath); err != nil {
			return false, nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return true, err
	}

	if key, ok := os.LookupEnv("TSMUX_CONFKEY"); ok {
		byts, err = decrypt(key, byts)
		if err != nil {
			return true, err
		}
	}

	// load YAML into a generic map
	var temp interface{}
	if err := yaml.Unmarshal(byts, &temp); err != nil {
		return true, err
	}

	// convert interface{} keys into string keys to avoid JSON errors
	var convert func(i interface{}) interface{}
	convert = func(i interface{}) interface{} {
		switch x := i.(type) {
		case map[interface{}]interface{}:
			m2 := map[string]interface{}{}
			for k, v := range x {
				m2[k.(string)] = convert(v)
			}
			return m2
		case []interface{}:
			a2 := make([]interface{}, len(x))
			for i, v := range x {
				a2[i] = convert(v)
			}
			return a2
		}
		return i
	}
	temp = convert(temp)

	// convert the generic map into JSON, then load it into the typed struct
	byts, err = json.Marshal(temp)
	if err != nil {
		return true, err
	}

	if err := json.Unmarshal(byts, conf); err != nil {
		return true, err
	}

	return true, nil
}

// PIDs holds the MPEG-TS PID assignment of a muxer. Only Video and Audio
// take effect: the generator does not read PAT or PMT, and emits PAT/PMT
// on the PIDs go-astits assigns.
type PIDs struct {
	PAT   int `json:"pat"`
	PMT   int `json:"pmt"`
	Video int `json:"video"`
	Audio int `json:"audio"`
}

// Conf is the top-level configuration.
type Conf struct {
	// general
	LogLevel        LogLevel            `json:"logLevel"`
	LogDestinations logger.Destinations `json:"logDestinations"`
	LogFile         string              `json:"logFile"`

	// muxer
	SegmentDuration StringDuration `json:"segmentDuration"`
	SegmentMaxCount int            `json:"segmentMaxCount"`
	SegmentMaxSize  SizeBytes      `json:"segmentMaxSize"`
	ExpectedMedias  ExpectedMedias `json:"expectedMedias"`
	BaseFolder      string         `json:"baseFolder"`
	PIDs            PIDs           `json:"pids"`

	// hooks
	RunOnSegment        string `json:"runOnSegment"`
	RunOnSegmentRestart bool   `json:"runOnSegmentRestart"`
	RunOnRotate         string `json:"runOnRotate"`

	// ingest
	RTMPAddress       string `json:"rtmpAddress"`
	FSIngestDirectory string `json:"fsIngestDirectory"`

	// demo API/serving
	APIAddress string `json:"apiAddress"`
}

// LogLevel is a configuration-level alias of logger.Level so that the
// zero value ("unset") can be distinguished from logger.Debug (also 0)
// before defaults are filled in.
type LogLevel int

// Load loads a Conf from a YAML file (decrypted first when TSMUX_CONFKEY is
// set), then fills in defaults. Fields are not read from environment
// variables.
func Load(fpath string) (*Conf, bool, error) {
	conf := &Conf{}

	found, err := loadFromFile(fpath, conf)
	if err != nil {
		return nil, false, err
	}

	if err := conf.CheckAndFillMissing(); err != nil {
		return nil, false, err
	}

	return conf, found, nil
}

// CheckAndFillMissing validates the configuration and fills in defaults.
func (conf *Conf) CheckAndFillMissing() error {
	if conf.LogLevel == 0 {
		conf.LogLevel = LogLevel(logger.Info) + 1
	}

	if len(conf.LogDestinations) == 0 {
		conf.LogDestinations = logger.Destinations{logger.DestinationStdout: {}}
	}

	if conf.LogFile == "" {
		conf.LogFile = "tsmux.log"
	}

	if conf.SegmentDuration == 0 {
		conf.SegmentDuration = StringDuration(2 * time.Second)
	}

	if conf.SegmentMaxCount == 0 {
		conf.SegmentMaxCount = 10000
	}

	if conf.SegmentMaxSize == 0 {
		conf.SegmentMaxSize = 50 * 1024 * 1024
	}

	if conf.PIDs.PAT == 0 && conf.PIDs.PMT == 0 && conf.PIDs.Video == 0 && conf.PIDs.Audio == 0 {
		conf.PIDs = PIDs{PAT: 0, PMT: 4095, Video: 256, Audio: 257}
	}

	if conf.BaseFolder == "" {
		conf.BaseFolder = "."
	}

	if conf.APIAddress == "" {
		conf.APIAddress = "127.0.0.1:9996"
	}

	if conf.RTMPAddress == "" {
		conf.RTMPAddress = ":1935"
	}

	return nil
}

// EffectiveLogLevel returns the logger.Level corresponding to conf.LogLevel,
// accounting for the +1 offset CheckAndFillMissing uses to distinguish
// "unset" from logger.Debug.
func (conf *Conf) EffectiveLogLevel() logger.Level {
	if conf.LogLevel == 0 {
		return logger.Info
	}
	return logger.Level(conf.LogLevel - 1)
}
