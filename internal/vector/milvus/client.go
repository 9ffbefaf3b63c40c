// Package milvus holds the industry-benchmark knowledge collection. Chunks
// of curated benchmark publications are stored with their embeddings and
// retrieved semantically when a comparison needs industry reference values.
package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// BenchmarkChunk is one embedded passage of a benchmark publication.
type BenchmarkChunk struct {
	ID        string
	Embedding []float32
	Text      string
	SourceURL string
	Metric    string
	Channel   string
	Industry  string
	Published time.Time
}

type SearchResult struct {
	ChunkID   string
	Text      string
	SourceURL string
	Metric    string
	Channel   string
	Industry  string
	Score     float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(context.Background(), client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Industry benchmark publication embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:       "source_url",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "metric",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "channel",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "industry",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:     "published",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []BenchmarkChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	sourceURLs := make([]string, len(chunks))
	metrics := make([]string, len(chunks))
	channels := make([]string, len(chunks))
	industries := make([]string, len(chunks))
	published := make([]int64, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		sourceURLs[i] = chunk.SourceURL
		metrics[i] = chunk.Metric
		channels[i] = chunk.Channel
		industries[i] = chunk.Industry
		published[i] = chunk.Published.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("source_url", sourceURLs),
		entity.NewColumnVarChar("metric", metrics),
		entity.NewColumnVarChar("channel", channels),
		entity.NewColumnVarChar("industry", industries),
		entity.NewColumnInt64("published", published),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Benchmark chunks inserted", zap.Int("count", len(chunks)))
	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	expr := ""
	if metric, ok := filters["metric"]; ok && metric != "" {
		expr = fmt.Sprintf(`metric == "%s"`, metric)
	}
	if channel, ok := filters["channel"]; ok && channel != "" {
		if expr != "" {
			expr += " && "
		}
		expr += fmt.Sprintf(`channel == "%s"`, channel)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "source_url", "metric", "channel", "industry"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)
			sourceURL, _ := sr.Fields.GetColumn("source_url").Get(i)
			metric, _ := sr.Fields.GetColumn("metric").Get(i)
			channel, _ := sr.Fields.GetColumn("channel").Get(i)
			industry, _ := sr.Fields.GetColumn("industry").Get(i)

			results = append(results, SearchResult{
				ChunkID:   chunkID.(string),
				Text:      text.(string),
				SourceURL: sourceURL.(string),
				Metric:    metric.(string),
				Channel:   channel.(string),
				Industry:  industry.(string),
				Score:     sr.Scores[i],
			})
		}
	}

	logger.Debug("Benchmark search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filters", expr),
	)
	return results, nil
}
