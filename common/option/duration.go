package option

import (
	"encoding/json"
	"strconv"
	"time"

	E "github.com/sagernet/oi/common/exceptions"
)

// Duration is a time.Duration in JSON. It accepts Go duration strings
// ("1m30s") or a number of seconds.
type Duration time.Duration

func (d Duration) Build() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var value any
	err := json.Unmarshal(bytes, &value)
	if err != nil {
		return err
	}
	switch value := value.(type) {
	case float64:
		if value < 0 {
			return E.New("negative duration: ", strconv.FormatFloat(value, 'f', -1, 64))
		}
		*d = Duration(value * float64(time.Second))
	case string:
		duration, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(duration)
	case nil:
		*d = 0
	default:
		return E.New("invalid duration: ", string(bytes))
	}
	return nil
}
