// Package settings persists user preferences, network credentials and
// the first-run setup flag.
package settings

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/internal/types"
)

const SchemaVersion uint8 = 1

// version, brightness, timeout, theme, units
const RecordSize = 5

type TimeoutIndex uint8

const (
	TimeoutNever TimeoutIndex = iota
	Timeout30s
	Timeout1m
	Timeout2m
)

// Duration returns idle timeout, zero means never sleep.
func (t TimeoutIndex) Duration() time.Duration {
	switch t {
	case Timeout30s:
		return 30 * time.Second
	case Timeout1m:
		return time.Minute
	case Timeout2m:
		return 2 * time.Minute
	}
	return 0
}

func (t TimeoutIndex) String() string {
	switch t {
	case TimeoutNever:
		return "never"
	case Timeout30s:
		return "30s"
	case Timeout1m:
		return "1m"
	case Timeout2m:
		return "2m"
	}
	return fmt.Sprintf("TimeoutIndex(%d)", uint8(t))
}

type ThemeIndex uint8

const (
	ThemeLight ThemeIndex = iota
	ThemeDark
)

type UnitsIndex uint8

const (
	UnitsMetric UnitsIndex = iota
	UnitsImperial
)

type Record struct {
	Version       uint8
	BrightnessPct uint8
	Timeout       TimeoutIndex
	Theme         ThemeIndex
	Units         UnitsIndex
}

func Defaults() Record {
	return Record{
		Version:       SchemaVersion,
		BrightnessPct: 100,
		Timeout:       TimeoutNever,
		Theme:         ThemeLight,
		Units:         UnitsMetric,
	}
}

// Validate checks every field, any violation invalidates whole record.
func (r *Record) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Version, validation.Required, validation.In(SchemaVersion)),
		validation.Field(&r.BrightnessPct, validation.Max(uint8(100))),
		validation.Field(&r.Timeout, validation.Max(Timeout2m)),
		validation.Field(&r.Theme, validation.Max(ThemeDark)),
		validation.Field(&r.Units, validation.Max(UnitsImperial)),
	)
}

func (r Record) MarshalBinary() ([]byte, error) {
	return []byte{r.Version, r.BrightnessPct, uint8(r.Timeout), uint8(r.Theme), uint8(r.Units)}, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return errors.NotValidf("settings record length=%d expected=%d", len(b), RecordSize)
	}
	x := Record{
		Version:       b[0],
		BrightnessPct: b[1],
		Timeout:       TimeoutIndex(b[2]),
		Theme:         ThemeIndex(b[3]),
		Units:         UnitsIndex(b[4]),
	}
	if err := x.Validate(); err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("settings record=%x", b))
	}
	*r = x
	return nil
}

// With returns copy of r with one preference changed, or error if value is out of range.
func (r Record) With(p types.Preference, value uint8) (Record, error) {
	switch p {
	case types.PreferenceBrightness:
		r.BrightnessPct = value
	case types.PreferenceTimeout:
		r.Timeout = TimeoutIndex(value)
	case types.PreferenceTheme:
		r.Theme = ThemeIndex(value)
	case types.PreferenceUnits:
		r.Units = UnitsIndex(value)
	default:
		return r, errors.NotValidf("preference=%s", p.String())
	}
	if err := r.Validate(); err != nil {
		return r, errors.NewNotValid(err, fmt.Sprintf("preference %s=%d", p.String(), value))
	}
	return r, nil
}

func (r Record) Value(p types.Preference) uint8 {
	switch p {
	case types.PreferenceBrightness:
		return r.BrightnessPct
	case types.PreferenceTimeout:
		return uint8(r.Timeout)
	case types.PreferenceTheme:
		return uint8(r.Theme)
	case types.PreferenceUnits:
		return uint8(r.Units)
	}
	return 0
}

func (r Record) String() string {
	return fmt.Sprintf("version=%d brightness=%d%% timeout=%s theme=%d units=%d",
		r.Version, r.BrightnessPct, r.Timeout.String(), r.Theme, r.Units)
}
