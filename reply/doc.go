// Package reply turns a stream of ACP runtime events into chat deliveries.
//
// A Pipeline owns one session's projection state: the text buffer, the idle
// timer and the per-turn budgets and dedup records. Settings are resolved
// once from a Config and never change afterwards.
package reply
