package types

import (
	"fmt"
)

type EventKind uint8

const (
	EventInvalid       EventKind = iota
	EventTouch                   // raw touch sample from panel, Input.Up=false means pressed
	EventPress                   // widget press already recognized by UI layer
	EventPreference              // user changed preference, see Preference/Value
	EventProvisionStop           // user left provisioning screen
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventInvalid:
		return "Invalid"
	case EventTouch:
		return "Touch"
	case EventPress:
		return "Press"
	case EventPreference:
		return "Preference"
	case EventProvisionStop:
		return "ProvisionStop"
	case EventStop:
		return "Stop"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is produced by UI/input layer and consumed by lifecycle controller.
type Event struct {
	Input      InputEvent
	Preference Preference
	Value      uint8
	Kind       EventKind
}

func (e *Event) String() string {
	inner := ""
	switch e.Kind {
	case EventTouch:
		inner = fmt.Sprintf(" source=%s touched=%t x=%d y=%d", e.Input.Source, e.Input.Touched(), e.Input.X, e.Input.Y)
	case EventPreference:
		inner = fmt.Sprintf(" preference=%s value=%d", e.Preference.String(), e.Value)
	}
	return fmt.Sprintf("Event(%s%s)", e.Kind.String(), inner)
}

type InputKey uint16

type InputEvent struct {
	Source string
	Key    InputKey
	Up     bool
	X, Y   uint16
}

func (e *InputEvent) IsZero() bool  { return e.Source == "" && e.Key == 0 }
func (e *InputEvent) Touched() bool { return !e.IsZero() && !e.Up }

type Preference uint8

const (
	PreferenceInvalid Preference = iota
	PreferenceBrightness
	PreferenceTimeout
	PreferenceTheme
	PreferenceUnits
)

func (p Preference) String() string {
	switch p {
	case PreferenceBrightness:
		return "brightness"
	case PreferenceTimeout:
		return "timeout"
	case PreferenceTheme:
		return "theme"
	case PreferenceUnits:
		return "units"
	}
	return fmt.Sprintf("Preference(%d)", uint8(p))
}
