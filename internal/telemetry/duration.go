package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that encodes to JSON as a Go duration string
// ("74h12m3s") instead of a bare nanosecond count.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(value * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}

	return nil
}
