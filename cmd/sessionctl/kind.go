package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/sessiond/internal/protocol"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
)

// parseKind builds a session kind from the create flags
func parseKind(shell, sshTarget, device string, baud int) (terminal.Kind, error) {
	switch {
	case sshTarget != "":
		return parseSSHTarget(sshTarget)
	case device != "":
		return terminal.Serial{Device: device, Baud: baud}, nil
	default:
		return terminal.Local{Shell: shell}, nil
	}
}

// parseSSHTarget accepts [user@]host[:port]
func parseSSHTarget(target string) (terminal.SSH, error) {
	var kind terminal.SSH

	if at := strings.LastIndexByte(target, '@'); at >= 0 {
		kind.User = target[:at]
		target = target[at+1:]
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// No port given
		host = strings.Trim(target, "[]")
	} else {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return kind, fmt.Errorf("invalid ssh port %q", port)
		}
		kind.Port = n
	}
	if host == "" {
		return kind, fmt.Errorf("ssh target %q has no host", target)
	}
	kind.Host = host
	return kind, nil
}

func describeKind(k protocol.Kind) string {
	switch v := k.Kind.(type) {
	case terminal.SSH:
		if v.User != "" {
			return fmt.Sprintf("ssh %s@%s", v.User, v.Addr())
		}
		return "ssh " + v.Addr()
	case terminal.Serial:
		return "serial " + v.Device
	case terminal.Local:
		if v.Shell != "" {
			return "local " + v.Shell
		}
		return "local"
	default:
		return "unknown"
	}
}
