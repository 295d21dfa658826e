// Package logging configures log/slog with per-module levels.
//
// Every module logger writes to stdout when it is attached, to the systemd
// journal (identifier "screenscribe") when running under journald, and to an
// in-memory history that the API replays and streams to clients.
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"analysis": "debug"},
//	})
//	logger := logging.GetLogger("session").With("session_id", id)
//
// Module levels can be set in the [logging] table of the config file:
//
//	[logging]
//	level = "info"
//	analysis = "debug"
//
// and inspected with journalctl -t screenscribe MODULE=analysis.
package logging
