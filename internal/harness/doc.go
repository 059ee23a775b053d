// Package harness runs push scenarios end to end against a fresh database.
//
// A scenario seeds users, submits a sequence of push requests as given
// actors, and then checks the resulting state. Every run uses a
// deterministic clock and push id, so the final state can be compared
// byte for byte with a golden snapshot.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: promote_customer
//	description: "An administrator promotes a customer"
//	users:
//	  - {id: u1, tenant_id: t1, name: Ada, role: administrator}
//	  - {id: u2, tenant_id: t1, name: Bob, role: customer}
//	batch_policy: abort
//	pushes:
//	  - actor: u1
//	    tenant: t1
//	    request:
//	      pushVersion: 1
//	      clientGroupID: cg1
//	      mutations:
//	        - {id: 1, clientID: c1, name: setRole, args: {user: u2, role: manager}}
//	    expect:
//	      outcomes: [applied]
//	assertions:
//	  - type: user
//	    id: u2
//	    expect: {role: manager, version: 2}
//	  - type: client
//	    id: c1
//	    expect: {last_mutation_id: 1}
//
// # Assertion Types
//
//   - user: a users row matches the expected fields
//   - client: a clients row matches the expected fields
//   - client_group: a client_groups row matches the expected fields
//   - skipped_count: a client has exactly N skipped mutations
//   - poked: a channel was poked at least once
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/promote.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(context.Background(), scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
