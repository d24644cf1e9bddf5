// Package predicate holds the built-in edge conditions and foreach
// generators, and the registry the compiler resolves definition names
// against.
//
// Conditions are declared in definitions as a small tree:
//
//	condition:
//	  and:
//	    - name: fieldEqual
//	      args: {node: Fetch, key: status, value: ok}
//	    - not:
//	        name: argsFieldExist
//	        args: {key: dry_run}
//
// Applications register their own predicates with Registry.RegisterCondition.
package predicate
