// Package chitta is a persistent semantic memory engine for AI coding
// assistants: a tiered, memory-mapped graph-vector store with write-ahead
// logging, quantized approximate nearest-neighbor search, hybrid
// dense+sparse recall, and a long-lived daemon speaking JSON-RPC over a
// local socket.
//
// # Architecture
//
//   - pkg/primitive — node identifiers, quantized vectors, cosine math,
//     Hilbert ordering keys
//   - pkg/mmapfile — memory-mapped regions with crash-safe headers
//   - pkg/wal — append-only write-ahead log; commit = WAL fsync
//   - pkg/index — the unified mapped index: id→slot hash, fixed-width
//     node metadata, vector array, and the hierarchical ANN graph in one
//     connection-pool arena
//   - pkg/graphstore — dictionary-encoded subject/predicate/object facts
//   - pkg/tags — roaring-bitmap tag postings and the realm tree
//   - pkg/sparse — BM25 lexical index, rebuilt from payloads at open
//   - pkg/tier — hot/warm/cold payload residency (cold is a SQLite
//     archive of compressed payloads)
//   - pkg/dynamics — decay, Hebbian updates, coherence and vitality,
//     spreading activation, attractor settling
//   - pkg/mind — the engine façade: remember, recall, resonate, connect,
//     feedback, forget, tick, snapshot
//   - pkg/rpc, pkg/daemon, pkg/client — the tool taxonomy, the socket
//     daemon, and the CLI transport
//
// # Quick start
//
//	cfg := mind.DefaultConfig("/path/to/soul")
//	m, err := mind.Open(cfg, mind.WithEmbedder(myEmbedder))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//
//	id, _ := m.Remember(ctx, "prefer explicit error returns", index.TypeWisdom,
//		mind.RememberOptions{Tags: []string{"go"}})
//
//	results, _ := m.Recall(ctx, "how should I handle errors?", mind.RecallOptions{K: 5})
//
// The daemon (cmd/chittad) hosts one engine behind a versioned local
// socket; the CLI (cmd/chitta) exposes every tool as a subcommand.
package chitta
