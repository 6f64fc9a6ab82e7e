// Package config provides a task registry and human-readable flow configuration.
//
// Register tasks by name, then define flows in YAML (or structs) that reference
// those names and optional modifiers (retries, timeout, park retry):
//
//	name: Previously unreliable pipeline
//	observers: [log, db]
//	stages:
//	  - name: call_unreliable_api
//	    retries: 3
//	    retry_delay: 1s
//	  - augment_data
//	  - name: write_results_to_database
//	    retry: exponential
//	    timeout: 60s
//	    initial: 5s
//	    max_attempts: 5
//
// retries/retry_delay retry the task in process before the flow moves on.
// retry parks the run instead, so it needs BuildOptions.RetryPersist (e.g.
// from observer.ParkedRunStore.PersistFunc()) and a resumer to pick it up.
//
// Build a flow with BuildPipeline(registry, config, opts) and its observers
// with BuildObserver.
package config
