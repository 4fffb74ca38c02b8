package db

import (
	"context"
	"encoding/json"
	"fmt"

	"horse.fit/svergie/internal/contenthash"
)

// EmbeddingStore persists provider embeddings keyed by content hash. It
// satisfies the cache store contract used by the single-flight loader.
type EmbeddingStore struct {
	pool      *Pool
	modelName string
}

func NewEmbeddingStore(pool *Pool, modelName string) *EmbeddingStore {
	return &EmbeddingStore{pool: pool, modelName: modelName}
}

func (s *EmbeddingStore) Get(ctx context.Context, key contenthash.Digest) ([]float32, bool, error) {
	const query = `SELECT vector FROM news.embeddings WHERE content_hash = $1`

	var raw json.RawMessage
	err := s.pool.QueryRow(ctx, query, key.Bytes()).Scan(&raw)
	if IsNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load embedding %s: %w", key, err)
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false, fmt.Errorf("decode embedding %s: %w", key, err)
	}
	return vector, true, nil
}

func (s *EmbeddingStore) Put(ctx context.Context, key contenthash.Digest, vector []float32) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding %s: %w", key, err)
	}

	const query = `
		INSERT INTO news.embeddings (content_hash, model_name, vector)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, key.Bytes(), s.modelName, raw); err != nil {
		return fmt.Errorf("store embedding %s: %w", key, err)
	}
	return nil
}

// TranslationStore persists translations keyed by the hash of the source
// text, so a retranslation of identical input is a cache hit even when the
// provider would phrase the output differently.
type TranslationStore struct {
	pool       *Pool
	sourceLang string
	targetLang string
	modelName  string
}

func NewTranslationStore(pool *Pool, sourceLang, targetLang, modelName string) *TranslationStore {
	return &TranslationStore{
		pool:       pool,
		sourceLang: sourceLang,
		targetLang: targetLang,
		modelName:  modelName,
	}
}

func (s *TranslationStore) Get(ctx context.Context, key contenthash.Digest) (string, bool, error) {
	const query = `SELECT content FROM news.translations WHERE content_hash = $1`

	var content string
	err := s.pool.QueryRow(ctx, query, key.Bytes()).Scan(&content)
	if IsNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load translation %s: %w", key, err)
	}
	return content, true, nil
}

func (s *TranslationStore) Put(ctx context.Context, key contenthash.Digest, content string) error {
	const query = `
		INSERT INTO news.translations (content_hash, source_lang, target_lang, content, model_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_hash) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, key.Bytes(), s.sourceLang, s.targetLang, content, s.modelName); err != nil {
		return fmt.Errorf("store translation %s: %w", key, err)
	}
	return nil
}
