package acp

import "log/slog"

// LineObserver receives every line the agent writes and every request the
// connection sends, in wire order.
type LineObserver func(line []byte)

// ConnConfig holds connection configuration.
type ConnConfig struct {
	Observer      LineObserver
	Permission    PermissionPolicy
	Logger        *slog.Logger
	ClientName    string
	ClientVersion string
}

func defaultConnConfig() ConnConfig {
	return ConnConfig{
		Permission:    ReadOnlyPolicy{},
		ClientName:    "acpbridge",
		ClientVersion: "1.0.0",
	}
}

// ConnOption is a functional option for configuring a Conn.
type ConnOption func(*ConnConfig)

// WithObserver sets the observer that sees protocol traffic.
func WithObserver(o LineObserver) ConnOption {
	return func(c *ConnConfig) { c.Observer = o }
}

// WithPermissionPolicy sets the policy for agent permission requests.
func WithPermissionPolicy(p PermissionPolicy) ConnOption {
	return func(c *ConnConfig) { c.Permission = p }
}

// WithConnLogger sets the connection logger.
func WithConnLogger(l *slog.Logger) ConnOption {
	return func(c *ConnConfig) { c.Logger = l }
}

// WithClientInfo sets the name and version sent in initialize.
func WithClientInfo(name, version string) ConnOption {
	return func(c *ConnConfig) {
		c.ClientName = name
		c.ClientVersion = version
	}
}
