// Package harness runs flow scenarios against the local engine and checks
// the resulting trace.
//
// A scenario is a YAML file naming a flow definition, the flow to start,
// the outcome of each task and a list of assertions:
//
//	name: chain_success
//	description: A then B
//	definition_file: ../definitions/chain.yaml
//	flow: chain
//	node_args: {user: alice}
//	tasks:
//	  A: {result: {status: ok}}
//	  B: {fail: boom, fail_times: 1}
//	assertions:
//	  - type: trace_order
//	    events: ["task_succeeded A", "task_succeeded B"]
//	  - type: final_status
//	    status: success
//
// Scenarios run on a virtual clock with sequential node ids, so the same
// scenario always produces the same trace. RunWithGolden compares that
// trace against testdata/golden/<name>.golden; pass -update to rewrite it.
package harness
