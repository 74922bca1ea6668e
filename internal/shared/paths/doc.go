// Package paths provides the daemon's default filesystem locations.
//
// # Directory Structure
//
//	$XDG_RUNTIME_DIR/sessiond/     (runtime state, preferred when set)
//	  └── sessiond.sock            (IPC listener, mode 0600)
//	$XDG_CONFIG_HOME/sessiond/     (os.UserConfigDir fallback)
//	  ├── config.yaml              (optional configuration file)
//	  └── sessiond.sock            (IPC listener when no runtime dir exists)
//	~/.ssh/known_hosts             (SSH host key verification)
//	~/.ssh/id_ed25519, id_rsa      (default SSH identities)
//
// # Usage
//
//	socket := paths.SocketPath()
//	if err := paths.EnsureParent(socket); err != nil {
//	    return err
//	}
package paths
