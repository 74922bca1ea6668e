package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
)

// Kind is the wire form of a session kind: "Local", or an object keyed
// by the variant name, e.g. {"Ssh":{"host":"h","port":22}} or
// {"Serial":{"device":"/dev/ttyUSB0"}}.
type Kind struct {
	terminal.Kind
}

type sshFields struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	User string `json:"user,omitempty"`
}

type serialFields struct {
	Device string `json:"device"`
	Baud   int    `json:"baud,omitempty"`
}

// NewKind wraps a terminal kind for the wire
func NewKind(k terminal.Kind) Kind {
	return Kind{Kind: k}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	switch v := k.Kind.(type) {
	case nil:
		return []byte("null"), nil
	case terminal.Local:
		if v.Shell == "" {
			return api.Marshal(terminal.TypeLocal)
		}
		return api.Marshal(map[string]any{terminal.TypeLocal: map[string]string{"shell": v.Shell}})
	case terminal.SSH:
		return api.Marshal(map[string]sshFields{terminal.TypeSSH: {Host: v.Host, Port: v.Port, User: v.User}})
	case terminal.Serial:
		return api.Marshal(map[string]serialFields{terminal.TypeSerial: {Device: v.Device, Baud: v.Baud}})
	default:
		return nil, fmt.Errorf("unknown session kind %T", v)
	}
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := api.Unmarshal(data, &name); err != nil {
			return err
		}
		if name != terminal.TypeLocal {
			return fmt.Errorf("%w: %q needs parameters or is unknown", terminal.ErrInvalidKind, name)
		}
		k.Kind = terminal.Local{}
		return nil
	}

	var variants map[string]json.RawMessage
	if err := api.Unmarshal(data, &variants); err != nil {
		return fmt.Errorf("%w: %v", terminal.ErrInvalidKind, err)
	}
	if len(variants) != 1 {
		return fmt.Errorf("%w: expected exactly one variant", terminal.ErrInvalidKind)
	}

	for name, body := range variants {
		switch name {
		case terminal.TypeLocal:
			var f struct {
				Shell string `json:"shell"`
			}
			if err := api.Unmarshal(body, &f); err != nil {
				return fmt.Errorf("%w: %v", terminal.ErrInvalidKind, err)
			}
			k.Kind = terminal.Local{Shell: f.Shell}
		case terminal.TypeSSH:
			var f sshFields
			if err := api.Unmarshal(body, &f); err != nil {
				return fmt.Errorf("%w: %v", terminal.ErrInvalidKind, err)
			}
			k.Kind = terminal.SSH{Host: f.Host, Port: f.Port, User: f.User}
		case terminal.TypeSerial:
			var f serialFields
			if err := api.Unmarshal(body, &f); err != nil {
				return fmt.Errorf("%w: %v", terminal.ErrInvalidKind, err)
			}
			k.Kind = terminal.Serial{Device: f.Device, Baud: f.Baud}
		default:
			return fmt.Errorf("%w: unknown type %q", terminal.ErrInvalidKind, name)
		}
	}
	return nil
}
