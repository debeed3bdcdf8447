package inference

import "encoding/json"

// Results is the complete output of a single-shot inference call.
type Results interface {
	TaskType() TaskType
}

type CompletionResult struct {
	Result string `json:"result"`
}

type CompletionResults struct {
	Completion []CompletionResult `json:"completion"`
}

func (CompletionResults) TaskType() TaskType { return TaskCompletion }

type Embedding struct {
	Embedding []float32 `json:"embedding"`
}

type TextEmbeddingResults struct {
	Embeddings []Embedding `json:"text_embedding"`
}

func (TextEmbeddingResults) TaskType() TaskType { return TaskTextEmbedding }

type SparseEmbedding struct {
	IsTruncated bool               `json:"is_truncated"`
	Embedding   map[string]float32 `json:"embedding"`
}

type SparseEmbeddingResults struct {
	Embeddings []SparseEmbedding `json:"sparse_embedding"`
}

func (SparseEmbeddingResults) TaskType() TaskType { return TaskSparseEmbedding }

type RankedDoc struct {
	Index          int     `json:"index"`
	RelevanceScore float32 `json:"relevance_score"`
	Text           string  `json:"text,omitempty"`
}

type RankedDocsResults struct {
	Rerank []RankedDoc `json:"rerank"`
}

func (RankedDocsResults) TaskType() TaskType { return TaskRerank }

// Chunk is one unit of a streamed completion.
type Chunk struct {
	Deltas []string
	Final  bool
}

type chunkDelta struct {
	Delta string `json:"delta"`
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	deltas := make([]chunkDelta, 0, len(c.Deltas))
	for _, d := range c.Deltas {
		deltas = append(deltas, chunkDelta{Delta: d})
	}
	return json.Marshal(struct {
		Completion []chunkDelta `json:"completion"`
	}{Completion: deltas})
}

// StreamEvent carries either a chunk or the error that terminated the stream.
type StreamEvent struct {
	Chunk *Chunk
	Err   error
}
