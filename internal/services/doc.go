// Package services wires the remindmine components into one registry.
//
// Build constructs every component from a config.Config: the tracker
// source, vector store, embedding and completion providers, indexer,
// retriever, advice synthesizer and reviewer, pending-advice ledger,
// poll checkpoint and summary cache. The HTTP, MCP and CLI surfaces read
// components through the Registry accessors and share the operations in
// this package.
package services
