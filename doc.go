// Package gatewaysync keeps a local relational mirror in step with services,
// routes and plugins owned by a remote API gateway control plane.
//
// The package itself holds the compensating-transaction engine:
//
//  1. Register compensation actions in an ActionRegistry. Each action is
//     addressed by its ActionName so a compensation can be persisted and
//     replayed later by the retry scheduler.
//  2. Describe an operation as a Plan with a PlanBuilder. Every Step issues a
//     forward remote call, optionally returns a mirror mutation, and knows how
//     to build the Compensation that undoes its remote effect.
//  3. Run the plan with an Orchestrator. Steps run strictly in order; the
//     buffered mirror mutations commit in one transaction once every remote
//     call succeeded. On the first failure, completed steps are compensated in
//     reverse order, each attempted once inline and otherwise handed to a
//     Scheduler.
//
// Concrete plans for the gateway resources live in the operations package, the
// mirror in package mirror, and the asynchronous retry queue in package retry.
package gatewaysync
