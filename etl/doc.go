// Package etl is a small extract/augment/load flow around an unreliable API.
//
// The flow calls the API (which fails half of the time), merges the "msg"
// flow parameter into the returned record and writes the record with a
// ResultWriter (see package sink). The API task is retried in process three
// times with a one second delay before the flow gives up:
//
//	flow := etl.NewFlow(etl.NewUnreliableAPI(), sink.NewConsoleWriter(nil))
//	out, err := flow.Run(ctx, &pipeline.RunOptions{Parameters: etl.Parameters("hi")})
//
// The same tasks can be registered with RegisterTasks and combined from YAML
// with package config; FlowConfig is the equivalent definition.
package etl
