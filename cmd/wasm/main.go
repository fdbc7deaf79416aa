//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"syscall/js"
	"time"

	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/cache"
	"docrag/internal/adapter/chunker"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/memstore"
	"docrag/internal/domain"
	"docrag/internal/logging"
	"docrag/internal/usecase"
)

var (
	indexer  *usecase.IndexUseCase
	retrieve *usecase.RetrieveUseCase
)

func init() {
	reset()
}

// reset wires an in-memory pipeline with the hashing embedder, so nothing
// leaves the browser.
func reset() {
	chk, _ := chunker.NewWindowChunker(500, 50)
	emb, _ := embedding.NewHashingEmbedder("", 384, analyzer.NewTokenizer(false))
	index := memstore.NewVectorIndex()
	docs := memstore.NewDocumentStore()
	queryCache := cache.NewQueryCache(64, 5*time.Minute)
	logger := logging.Nop()

	indexer = usecase.NewIndexUseCase(chk, emb, index, docs, queryCache, usecase.NoRetry, logger)
	retrieve = usecase.NewRetrieveUseCase(emb, index, queryCache, usecase.NoRetry, usecase.RetrieveOptions{SnippetLength: 200}, logger)
}

func main() {
	c := make(chan struct{})

	js.Global().Set("docragIngest", js.FuncOf(ingestContent))
	js.Global().Set("docragQuery", js.FuncOf(queryContent))
	js.Global().Set("docragDelete", js.FuncOf(deleteContent))
	js.Global().Set("docragClear", js.FuncOf(clearIndex))
	js.Global().Set("docragStats", js.FuncOf(getStats))

	<-c
}

func ingestContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeError("usage: docragIngest(owner, filename, content)")
	}
	owner, filename := args[0].String(), args[1].String()

	res, err := indexer.Ingest(context.Background(), usecase.IngestRequest{
		DocumentID: usecase.DocumentIDForPath(owner, filename),
		OwnerID:    owner,
		Title:      filename,
		Source:     filename,
		Text:       args[2].String(),
	})
	if err != nil {
		return makeError("ingestion failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"success":    true,
		"documentId": res.DocumentID,
		"chunks":     res.ChunkCount,
		"filename":   filename,
	})
}

func queryContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: docragQuery(owner, question, [topK])")
	}
	topK := 5
	if len(args) > 2 {
		topK = args[2].Int()
	}

	res, err := retrieve.Retrieve(context.Background(), usecase.RetrieveRequest{
		Question: args[1].String(),
		OwnerID:  args[0].String(),
		TopK:     topK,
	})
	if errors.Is(err, domain.ErrNoRelevantContent) {
		return makeResult(map[string]interface{}{
			"results": []interface{}{},
			"query":   args[1].String(),
		})
	}
	if err != nil {
		return makeError("search failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"results": res.Sources,
		"context": res.Context,
		"query":   res.Question,
	})
}

func deleteContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: docragDelete(owner, filename)")
	}
	owner := args[0].String()

	removed, err := indexer.Delete(context.Background(), usecase.DocumentIDForPath(owner, args[1].String()), owner)
	if err != nil {
		return makeError("delete failed: " + err.Error())
	}
	return makeResult(map[string]interface{}{
		"success": removed,
	})
}

func clearIndex(this js.Value, args []js.Value) interface{} {
	reset()
	return makeResult(map[string]interface{}{
		"success": true,
	})
}

func getStats(this js.Value, args []js.Value) interface{} {
	stats, err := indexer.Stats(context.Background())
	if err != nil {
		return makeError(err.Error())
	}
	out := map[string]interface{}{
		"chunks":    stats.Entries,
		"documents": stats.Documents,
		"owners":    stats.Owners,
	}

	if len(args) > 0 {
		docs, err := indexer.Documents(context.Background(), args[0].String())
		if err != nil {
			return makeError(err.Error())
		}
		files := make([]string, len(docs))
		for i, d := range docs {
			files[i] = d.Title
		}
		out["files"] = files
	}
	return makeResult(out)
}

func makeError(msg string) interface{} {
	result, _ := json.Marshal(map[string]interface{}{
		"error": msg,
	})
	return string(result)
}

func makeResult(data map[string]interface{}) interface{} {
	result, _ := json.Marshal(data)
	return string(result)
}
