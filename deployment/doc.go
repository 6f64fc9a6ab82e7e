// Package deployment declares how a flow is deployed and runs it.
//
// A deployment file names the flow, its parameters, tags and the runner:
//
//	name: my-first-deployment
//	flow_location: ../flows/etl.yaml
//	flow_name: Previously unreliable pipeline
//	parameters:
//	  msg: Hello from my first deployment!
//	tags: [ETL]
//	flow_runner: subprocess
//
// InProcessRunner runs the flow from a Catalog; SubprocessRunner starts the
// etlflow binary again with "flow run" so the run gets its own process.
package deployment
