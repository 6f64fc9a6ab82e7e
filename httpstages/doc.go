// Package httpstages provides pipeline stages that call HTTP APIs and check
// what comes back.
//
// Get and Fetch perform a GET, ParseJSON decodes the body, and Expect,
// ExpectEqual and ExpectKeys fail the run with ErrUnexpected when the decoded
// body is not what the flow needs.
//
// Transport failures and 5xx/429 responses are wrapped with
// pipeline.RetryableErr, so pipeline.Task(..., pipeline.RetryIf(pipeline.IsRetryable))
// retries them and fails fast on other statuses and unexpected bodies.
//
//	p := &pipeline.Pipeline{
//	    Name: "call-api",
//	    Stages: []pipeline.Stage{
//	        pipeline.Task("call_api", httpstages.Get(nil, "http://localhost:8080/api"),
//	            pipeline.Retries(3), pipeline.RetryDelay(time.Second),
//	            pipeline.RetryIf(pipeline.IsRetryable)),
//	        httpstages.ParseJSON(),
//	        httpstages.ExpectKeys("data"),
//	    },
//	}
package httpstages
