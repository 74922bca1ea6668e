// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON lines for log collectors; development mode
// writes colored console lines. Components take named child loggers and
// carry their identifiers as fields, so one daemon log can be filtered per
// session or per connection:
//
//	logger, _ := logging.New(logging.DefaultConfig())
//	defer logger.Close()
//	connLog := logger.ForConnection("conn_01J...")
//	connLog.Debug("request", zap.String("method", "attach_session"))
package logging
