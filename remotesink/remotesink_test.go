package remotesink

import "github.com/fluxforge/agentcore/channel"

// Compile-time assertions that both sinks satisfy channel.RemoteSink.
// Exercising Send against a live Redis/Postgres instance is integration-test
// territory outside this module's unit test suite.
var (
	_ channel.RemoteSink = (*RedisSink)(nil)
	_ channel.RemoteSink = (*PostgresSink)(nil)
)
