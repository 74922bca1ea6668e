// Package config provides layered configuration for the session daemon.
//
// Sources, lowest precedence first:
//  1. Built-in defaults (Default)
//  2. YAML file: -config flag, SESSIOND_CONFIG, or <config dir>/sessiond/config.yaml
//  3. Environment variables: SESSIOND_<SECTION>_<FIELD>, e.g.
//     SESSIOND_IPC_MAX_CONNECTIONS=50 or SESSIOND_SESSIONS_REAP_GRACE=10s
//
// Command-line flags in cmd/sessiond override the loaded result.
//
// Example file:
//
//	daemon:
//	  socket_path: /run/user/1000/sessiond/sessiond.sock
//	  terminate_on_shutdown: false
//	ipc:
//	  max_connections: 100
//	  max_message_size: 1048576
//	sessions:
//	  reap_interval: 60s
//	  reap_grace: 5s
//	ssh:
//	  use_agent: true
//	  failure_threshold: 3
//	  failure_cooldown: 30s
//	http:
//	  enabled: true
//	  addr: 127.0.0.1:3030
package config
