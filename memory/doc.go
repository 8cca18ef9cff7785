// Package memory keeps what a conversational avatar has learned about the
// people it talks to.
//
// An avatar belongs to an owner and may be shared with many visitors. Every
// fact ("fragment") is stored under a ScopeKey of (owner, avatar,
// relationship token), and a visitor only ever sees the fragments of their
// own scope. The owner's scope uses the reserved relationship "owner".
//
// Architecture:
//   - Store: vector storage backend (chromem, sqlite, firestore)
//   - Embedder: text-to-vector conversion (onnx, openai, gemini, ollama)
//   - Generator + Extractor: turn a message into candidate fragments
//   - Pipeline: extract, embed, store for one turn; absorbs every failure
//   - Scheduler: runs pipelines in the background, recovering panics
//   - Manager: what the conversation layer calls
//
// Integration:
//   - before answering: Manager.Retrieve loads relevant fragments
//   - after answering: Manager.Remember records the user's message
//   - on erasure requests: Manager.Forget drops a whole scope
package memory
