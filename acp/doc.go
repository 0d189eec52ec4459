// Package acp turns the line-delimited JSON-RPC output of an Agent Client
// Protocol (ACP) agent into a small, closed set of runtime events.
//
// ACP agents (Gemini CLI, Claude Code adapters, Goose, ...) stream progress
// for a prompt as session/update notifications and end the turn with a
// response to the session/prompt request. A Projector consumes that stream
// one line at a time and yields at most one Event per line:
//
//	p := acp.NewProjector()
//	for scanner.Scan() {
//	    switch e := p.IngestLine(scanner.Bytes()).(type) {
//	    case acp.TextDeltaEvent:
//	        fmt.Print(e.Text)
//	    case acp.ToolCallEvent:
//	        fmt.Printf("\n[%s]\n", e.Text)
//	    case acp.DoneEvent:
//	        fmt.Println("\ndone:", e.StopReason)
//	    }
//	}
//
// The projector remembers the ids of prompt requests it has seen, so a
// completion or failure is only reported for a prompt that is actually in
// flight. Lines that are not valid JSON become StatusEvents with the raw
// text; protocol output is never dropped silently.
//
// For captured logs, DecodeBatch returns the protocol messages of a whole
// stream and discards everything else.
//
// Conn drives a live agent over its stdio: it performs the handshake,
// creates a session, sends prompts and answers permission requests, while
// feeding every line to an observer such as a Projector.
package acp
