// Package chunker splits a podcast script into ordered, bounded-size
// chunks that can each be synthesized inside one processing invocation.
// Splits prefer speaker-turn boundaries, then sentence ends, then
// whitespace, and never exceed the hard character ceiling.
package chunker
