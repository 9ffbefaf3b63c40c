// Package ingestion turns industry-benchmark publications (HTML articles)
// into searchable knowledge: clean, chunk, embed, insert into the vector
// collection, register in the document catalog.
package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/storage/models"
	"github.com/campaigniq/backend/internal/storage/sqlite"
	"github.com/campaigniq/backend/internal/vector/milvus"
	"github.com/campaigniq/backend/pkg/logger"
)

type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type ChunkSink interface {
	Insert(ctx context.Context, chunks []milvus.BenchmarkChunk) error
}

type Processor struct {
	db           *sqlite.Client
	vectorDB     ChunkSink
	embedder     Embedder
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(db *sqlite.Client, vectorDB ChunkSink, embedder Embedder) *Processor {
	return &Processor{
		db:           db,
		vectorDB:     vectorDB,
		embedder:     embedder,
		chunkSize:    1000,
		chunkOverlap: 100,
	}
}

// Article is one benchmark publication to ingest. Metric, Channel and
// Industry come from the submitter; the HTML body is cleaned here.
type Article struct {
	URL      string
	HTML     string
	Metric   string
	Channel  string
	Industry string
}

func (p *Processor) ProcessArticle(ctx context.Context, art Article) (string, error) {
	logger.Info("Processing benchmark article", zap.String("url", art.URL))

	cleanedText := cleanHTML(art.HTML)
	if cleanedText == "" {
		return "", fmt.Errorf("no content extracted from HTML")
	}

	chunks := p.chunkText(cleanedText)
	logger.Info("Article chunked", zap.Int("chunks", len(chunks)))

	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return "", fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	docID := uuid.New().String()
	now := time.Now().UTC()

	vectorChunks := make([]milvus.BenchmarkChunk, 0, len(chunks))
	for i, chunkText := range chunks {
		vectorChunks = append(vectorChunks, milvus.BenchmarkChunk{
			ID:        fmt.Sprintf("%s_chunk_%d", docID, i),
			Embedding: embeddings[i],
			Text:      chunkText,
			SourceURL: art.URL,
			Metric:    art.Metric,
			Channel:   art.Channel,
			Industry:  art.Industry,
			Published: now,
		})
	}

	if err := p.vectorDB.Insert(ctx, vectorChunks); err != nil {
		return "", fmt.Errorf("failed to insert into vector DB: %w", err)
	}

	doc := &models.BenchmarkDoc{
		ID:         docID,
		URL:        art.URL,
		Title:      extractTitle(art.HTML),
		Metric:     art.Metric,
		Industry:   art.Industry,
		Summary:    summaryOf(cleanedText),
		ChunkCount: len(vectorChunks),
		CreatedAt:  now,
	}
	if err := p.db.InsertBenchmarkDoc(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to register benchmark doc: %w", err)
	}

	logger.Info("Benchmark article ingested",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(vectorChunks)),
	)
	return docID, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "Untitled"
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}
	if title == "" {
		title = "Untitled"
	}
	return strings.TrimSpace(title)
}

// summaryOf takes the article's leading text as a cheap registry summary;
// the retrieval path reads full chunks, not this.
func summaryOf(text string) string {
	const maxLen = 500
	if len(text) <= maxLen {
		return text
	}
	cut := text[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var currentChunk strings.Builder
	currentSize := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > p.chunkSize && currentChunk.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(currentChunk.String()))

			overlapWords := strings.Fields(currentChunk.String())
			overlapStart := len(overlapWords) - p.chunkOverlap/10
			if overlapStart < 0 {
				overlapStart = 0
			}
			currentChunk.Reset()
			currentChunk.WriteString(strings.Join(overlapWords[overlapStart:], " ") + " ")
			currentSize = currentChunk.Len()
		}

		currentChunk.WriteString(word + " ")
		currentSize += wordLen
	}

	if currentChunk.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
	}
	return chunks
}
