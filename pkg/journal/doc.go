// Package journal keeps an append-only SQLite record of engine runs and the
// unit phases they went through. The journal is written for auditing and
// inspection only; nothing in the engine reads it back.
//
// The schema is managed with golang-migrate from embedded migrations. Use
// MemoryPath for a private in-memory journal.
//
// A Recorder is an engine.Observer: attach it to an engine, call StartRun
// before initialization and FinishRun once the engine has exited. Engines
// derived from a recorded engine write to the same run.
package journal
