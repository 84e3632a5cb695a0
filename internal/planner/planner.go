// Package planner builds the parameterized SQL used by batched relation
// fetches. Every plan binds the batch keys through an IN list, so one plan
// answers a whole window of keys; key lists longer than the configured
// maximum are split into several plans by ChunkValues.
package planner
