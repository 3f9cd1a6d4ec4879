// Package deployer provides a declarative deployment engine for EVM chains.
//
// A deployment is described as a set of named declarations: contract
// deployments, state-changing calls and read-only calls. Declarations may
// refer to each other's results by name, e.g. a call whose target is the
// address of a contract deployed by another declaration. The engine resolves
// these references into a dependency-ordered plan and executes it, recording
// every step in a journal so that an interrupted or failed deployment can be
// re-run and resumes where it stopped.
//
// # Basic Usage
//
// Register artifacts, declare the deployment, build and run:
//
//	artifacts := deployer.NewArtifacts(tokenArtifact)
//
//	b := deployer.NewBuilder(deployer.WithArtifacts(artifacts))
//	b.Add(deployer.Declaration{
//	    Name:     "token",
//	    Kind:     deployer.Deploy,
//	    Contract: "TetherToken",
//	    Args:     []any{big.NewInt(100000000000), "Tether USD", "USD", 6},
//	    From:     owner,
//	})
//	b.Call("xfer", deployer.Ref("token"), "transfer", recipient, 500)
//
//	plan, err := b.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := deployer.NewEngine(network, journal)
//	registry, err := engine.Run(ctx, plan)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	addr, _ := registry.Address("token")
//
// # Futures
//
// Each declaration becomes a Future identified as "<module>#<name>". Its
// lifecycle is Pending, then Submitted once a transaction is broadcast, then
// Confirmed or Failed. Static calls go straight from Pending to Confirmed.
// A future that was in flight when a run was cancelled is recorded as
// Unknown and its transaction is checked before anything else on the next
// run.
//
// # Arguments
//
// Arguments can be:
//
//   - Literals: plain Go values, coerced to the ABI parameter type when the
//     action is encoded. Integers are checked against the parameter's bit
//     width and never truncated.
//
//   - References: Ref("name") or RefField("name", "field"), replaced by the
//     resolved value of another declaration once it is Confirmed.
//
//   - Parameters: Param("name"), replaced at build time by a value from
//     WithParameters.
//
// # Resumption
//
// The Journal stores one ExecutionRecord per (plan ID, future ID). Futures
// already Confirmed are skipped without any network access, and a journaled
// transaction that succeeded is adopted instead of being sent again.
// Implementations for BadgerDB, PostgreSQL and Redis live in the journal
// subpackages.
package deployer
