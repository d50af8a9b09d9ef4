package types

import "fmt"

type SignalKind uint8

const (
	SignalNone SignalKind = iota
	// Persisted state is final, device must reboot to apply network identity.
	SignalCommitRestart
	SignalPreferenceChanged
	// Provisioning started or stopped, UI may show/hide access point details.
	SignalProvisioning
	SignalSleep
	SignalWake
	// Touch not consumed by wake, UI must handle it.
	SignalInput
)

func (k SignalKind) String() string {
	switch k {
	case SignalNone:
		return "None"
	case SignalCommitRestart:
		return "CommitRestart"
	case SignalPreferenceChanged:
		return "PreferenceChanged"
	case SignalProvisioning:
		return "Provisioning"
	case SignalSleep:
		return "Sleep"
	case SignalWake:
		return "Wake"
	case SignalInput:
		return "Input"
	}
	return fmt.Sprintf("SignalKind(%d)", uint8(k))
}

// Signal is emitted by lifecycle controller towards application layer.
type Signal struct {
	Kind       SignalKind
	Preference Preference
	Value      uint8
	Active     bool       // SignalProvisioning
	Input      InputEvent // SignalInput
}

func (s Signal) String() string {
	switch s.Kind {
	case SignalPreferenceChanged:
		return fmt.Sprintf("Signal(%s %s=%d)", s.Kind.String(), s.Preference.String(), s.Value)
	case SignalProvisioning:
		return fmt.Sprintf("Signal(%s active=%t)", s.Kind.String(), s.Active)
	case SignalInput:
		return fmt.Sprintf("Signal(%s x=%d y=%d)", s.Kind.String(), s.Input.X, s.Input.Y)
	}
	return fmt.Sprintf("Signal(%s)", s.Kind.String())
}

type SignalFunc func(Signal)

// Navigator is the UI collaborator able to force home screen.
type Navigator interface {
	GoHome()
}

type NavigatorFunc func()

func (f NavigatorFunc) GoHome() { f() }
