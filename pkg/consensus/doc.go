/*
Package consensus implements proposal voting for swarm decisions.

A proposal carries a topic, an option set, a quorum algorithm, a
deadline and an eligible voter set. Majority picks the strictly largest
tally with ties broken by option order; weighted gives the designated
queen voter extra weight; byzantine requires a two-thirds supermajority
and records no_consensus with zero confidence otherwise. Proposals
below the participation floor at the deadline are marked timed_out.
Every outcome persists to the decisions bucket and emits a
decision_closed event.
*/
package consensus
