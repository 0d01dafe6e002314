// Package vectorindex implements a flat inner-product index over
// unit-normalized vectors, with owned metadata, monotonically assigned
// ids, and persistence to a binary vector artifact plus a JSON
// metadata artifact.
package vectorindex

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"policyrag/internal/domain"
	"policyrag/internal/errs"
)

const normEpsilon = 1e-12

// Hit is one similarity-search result.
type Hit struct {
	ID    int
	Score float64
	Meta  domain.Chunk
}

// FlatIndex stores dense vectors with associated chunk metadata.
// Vectors are normalized to unit L2 norm at write time so that
// inner-product search implements cosine similarity. The dimension is
// fixed lazily by the first Add.
type FlatIndex struct {
	mu        sync.RWMutex
	indexPath string
	metaPath  string
	dim       int
	vectors   [][]float32
	idToMeta  map[int]domain.Chunk
	nextID    int
	log       *slog.Logger
}

// New creates an empty index persisting to the given artifact paths.
func New(indexPath, metaPath string, log *slog.Logger) *FlatIndex {
	if log == nil {
		log = slog.Default()
	}
	return &FlatIndex{
		indexPath: indexPath,
		metaPath:  metaPath,
		idToMeta:  map[int]domain.Chunk{},
		log:       log.With("component", "vectorindex"),
	}
}

// Add normalizes and appends vectors, assigning len(vectors)
// consecutive ids starting at the current counter. The counter only
// moves forward, so removed or repaired entries never get their ids
// handed out again; only Reset starts the sequence over.
func (x *FlatIndex) Add(vectors [][]float32, metas []domain.Chunk) error {
	if len(vectors) != len(metas) {
		return errs.Consistencyf("vectors (%d) and metadata (%d) length mismatch", len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimensional vector", errs.ErrInvalidInput)
	}
	if x.dim == 0 {
		x.dim = dim
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("%w: vector dimension %d does not match index dimension %d", errs.ErrInvalidInput, len(v), x.dim)
		}
		normalized[i] = normalize(v)
	}
	start := x.nextID
	x.vectors = append(x.vectors, normalized...)
	for i, m := range metas {
		x.idToMeta[start+i] = m
	}
	x.nextID += len(vectors)
	return nil
}

// Search returns up to topK hits ordered by descending score. The
// query is normalized the same way as stored vectors, so results are
// invariant under positive scaling of the query. An empty or
// uninitialized index yields no hits.
func (x *FlatIndex) Search(query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", errs.ErrInvalidInput, topK)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dim == 0 || len(x.vectors) == 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query dimension %d does not match index dimension %d", errs.ErrInvalidInput, len(query), x.dim)
	}
	q := normalize(query)
	hits := make([]Hit, 0, len(x.vectors))
	for id, v := range x.vectors {
		meta, ok := x.idToMeta[id]
		if !ok {
			// should not occur under the pairing invariant; drop defensively
			continue
		}
		hits = append(hits, Hit{ID: id, Score: dot(v, q), Meta: meta})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

type vectorArtifact struct {
	Dim     int
	Vectors [][]float32
}

type metaArtifact struct {
	IDToMeta map[string]domain.Chunk `json:"id_to_meta"`
	NextID   int                     `json:"next_id"`
}

// Save persists both artifacts. On failure the in-memory index is
// ahead of the persisted state; the caller must surface that.
func (x *FlatIndex) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(x.indexPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(x.indexPath)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(vectorArtifact{Dim: x.dim, Vectors: x.vectors}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	meta := metaArtifact{IDToMeta: make(map[string]domain.Chunk, len(x.idToMeta)), NextID: x.nextID}
	for id, m := range x.idToMeta {
		meta.IDToMeta[strconv.Itoa(id)] = m
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(x.metaPath, data, 0o644)
}

// Load restores persisted state. A metadata/vector count mismatch is
// repaired deterministically by truncating to the smaller count, and
// a lost counter is reconciled by taking the larger of the persisted
// value and the vector count, so counter loss never causes id reuse.
// Returns the number of vectors served.
func (x *FlatIndex) Load() (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = nil
	x.idToMeta = map[int]domain.Chunk{}
	x.dim = 0
	x.nextID = 0

	if data, err := os.ReadFile(x.indexPath); err == nil {
		var art vectorArtifact
		if err := gobDecode(data, &art); err != nil {
			return 0, errs.Consistencyf("corrupt vector artifact %s: %v", x.indexPath, err)
		}
		x.dim = art.Dim
		x.vectors = art.Vectors
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	persistedNext := len(x.vectors)
	if data, err := os.ReadFile(x.metaPath); err == nil {
		var meta metaArtifact
		if err := json.Unmarshal(data, &meta); err != nil {
			return 0, errs.Consistencyf("corrupt metadata artifact %s: %v", x.metaPath, err)
		}
		for key, m := range meta.IDToMeta {
			id, err := strconv.Atoi(key)
			if err != nil {
				return 0, errs.Consistencyf("non-numeric id %q in %s", key, x.metaPath)
			}
			x.idToMeta[id] = m
		}
		if meta.NextID > persistedNext {
			persistedNext = meta.NextID
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	if len(x.vectors) != len(x.idToMeta) {
		x.log.Warn("vector/metadata count mismatch, truncating to smaller",
			"vectors", len(x.vectors), "metadata", len(x.idToMeta))
		x.repairLocked()
	}
	x.nextID = persistedNext
	for id := range x.idToMeta {
		if id >= x.nextID {
			x.nextID = id + 1
		}
	}
	return len(x.vectors), nil
}

// repairLocked truncates vectors and metadata to their common prefix.
// Ids are assigned consecutively from zero, so position i pairs with
// id i.
func (x *FlatIndex) repairLocked() {
	n := len(x.vectors)
	if len(x.idToMeta) < n {
		n = len(x.idToMeta)
	}
	x.vectors = x.vectors[:n]
	for id := range x.idToMeta {
		if id >= n {
			delete(x.idToMeta, id)
		}
	}
}

// Reset clears vectors, metadata, and the id counter together and
// removes both persisted artifacts.
func (x *FlatIndex) Reset() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = nil
	x.idToMeta = map[int]domain.Chunk{}
	x.dim = 0
	x.nextID = 0
	for _, p := range []string{x.indexPath, x.metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Stats reports the observable state of the index and its artifacts.
func (x *FlatIndex) Stats() domain.IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	files := map[string]struct{}{}
	for _, m := range x.idToMeta {
		files[m.SourceFile] = struct{}{}
	}
	st := domain.IndexStats{
		Vectors:      len(x.vectors),
		FilesIndexed: len(files),
		IndexPath:    absPath(x.indexPath),
		MetadataPath: absPath(x.metaPath),
	}
	if info, err := os.Stat(x.indexPath); err == nil {
		st.IndexExists = true
		st.LastModified = info.ModTime().Format(time.RFC3339)
	}
	return st
}

// normalize returns a unit-L2-norm copy; the epsilon guards against
// division by zero for degenerate inputs.
func normalize(v []float32) []float32 {
	var sum float64
	for _, c := range v {
		sum += float64(c) * float64(c)
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float32, len(v))
	for i, c := range v {
		out[i] = float32(float64(c) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func gobDecode(data []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}
