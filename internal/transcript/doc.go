// Package transcript reads and writes conversation transcripts.
//
// A transcript is a JSONL file. The first line is a header:
//
//	{"type":"session","version":3,"id":"<sessionId>","timestamp":"...","cwd":"...","parentSession":"<path>"}
//
// Every following line is an entry with an id and the id of its parent, so a
// file can hold a tree of turns. The last entry is the leaf. Branching copies
// the root-to-leaf chain into a new file whose header names the source file as
// its parent session.
//
// The agent runtime owns transcript content; the session layer only opens,
// creates and branches files.
package transcript
