// Package memory decides which conversation messages are worth remembering
// and serves them back as prompt context.
//
// Lifecycle of a memory:
//   - Process: a message scored by the analyzer at or above the importance
//     threshold becomes a memory whose content is the analyzer's summary
//   - Decay: relevance drops linearly with days since last access; a memory
//     whose relevance reaches 0 is deactivated, and SHORT_TERM memories are
//     deactivated once older than the TTL
//   - RetrieveRelevant: active memories are ranked by similarity, ordered by
//     priority band, and touched (access count, last accessed)
//
// Memories are never deleted. Deactivation is terminal and keeps the row for
// audit.
//
// Storage backends:
//   - store/sqlite: persistent, shared with documents and messages
//   - memory/store/chromem: in-memory chromem-go collection (tests, offline mode)
package memory
