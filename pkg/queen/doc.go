/*
Package queen implements swarm direction.

The queen chooses the communication topology from objective keywords,
seeds the worker pool with a default mix of researcher, coder, analyst
and tester, and then runs a periodic loop that auto-scales on queue
pressure and replaces errored agents. Scaling up spawns the worker type
most in demand across pending task descriptions; scaling down retires
the least-recently-used idle worker. Replacements draw from a restart
budget per rolling window so a crash-looping agent type cannot spin the
pool forever.
*/
package queen
