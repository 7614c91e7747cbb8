package tfidf

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/lexlapax/aimemory/pkg/log"
)

// DefaultSaveEvery is how many vocabulary updates pass between writes to disk.
const DefaultSaveEvery = 10

// vocabularyFile is the on-disk layout of the vocabulary side file.
type vocabularyFile struct {
	DocumentCount int            `json:"document_count"`
	TermDF        map[string]int `json:"term_df"`
}

// Vocabulary holds the corpus statistics used to weight terms. One instance
// is shared by every TF-IDF backend in a process. It only ever grows.
type Vocabulary struct {
	path      string
	saveEvery int

	mu            sync.RWMutex
	documentCount int
	termDF        map[string]int
	dirty         bool

	// saveMu orders writers so an older snapshot never replaces a newer one.
	saveMu sync.Mutex
}

// NewVocabulary returns an empty vocabulary that is never persisted.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		saveEvery: DefaultSaveEvery,
		termDF:    make(map[string]int),
	}
}

// LoadVocabulary reads the vocabulary at path. A missing file yields an
// empty vocabulary; a corrupt one is logged and replaced on the next save.
func LoadVocabulary(path string, saveEvery int) (*Vocabulary, error) {
	v := NewVocabulary()
	v.path = path
	if saveEvery > 0 {
		v.saveEvery = saveEvery
	}
	if path == "" {
		return v, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vocabulary directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("No TF-IDF vocabulary on disk, starting empty", "path", path)
			return v, nil
		}
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	var file vocabularyFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Warn("Ignoring corrupt TF-IDF vocabulary", "path", path, "error", err)
		return v, nil
	}

	v.documentCount = file.DocumentCount
	if file.TermDF != nil {
		v.termDF = file.TermDF
	}

	log.Debug("Loaded TF-IDF vocabulary",
		"path", path,
		"documents", v.documentCount,
		"terms", len(v.termDF))
	return v, nil
}

// Path is the side file location, empty for in-memory vocabularies.
func (v *Vocabulary) Path() string {
	return v.path
}

// DocumentCount is the number of documents folded into the vocabulary.
func (v *Vocabulary) DocumentCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.documentCount
}

// DocumentFrequency is the number of documents containing term.
func (v *Vocabulary) DocumentFrequency(term string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.termDF[term]
}

// idf must be called with mu held.
func (v *Vocabulary) idf(term string) float64 {
	if v.documentCount == 0 {
		return 1.0
	}
	return math.Log(float64(v.documentCount+1) / float64(v.termDF[term]+1))
}

// add records one document with the given distinct terms. It reports
// whether this update is due to be persisted.
func (v *Vocabulary) add(terms []string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.documentCount++
	for _, t := range terms {
		v.termDF[t]++
	}
	v.dirty = true
	return v.path != "" && v.documentCount%v.saveEvery == 0
}

// Save writes the vocabulary to its side file, replacing it atomically.
func (v *Vocabulary) Save() error {
	if v.path == "" {
		return nil
	}

	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	v.mu.Lock()
	file := vocabularyFile{
		DocumentCount: v.documentCount,
		TermDF:        make(map[string]int, len(v.termDF)),
	}
	for t, n := range v.termDF {
		file.TermDF[t] = n
	}
	v.dirty = false
	v.mu.Unlock()

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal vocabulary: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".vocab-*.json")
	if err != nil {
		return fmt.Errorf("failed to write vocabulary: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write vocabulary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write vocabulary: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace vocabulary: %w", err)
	}

	log.Debug("Saved TF-IDF vocabulary", "path", v.path, "documents", file.DocumentCount)
	return nil
}

// Flush saves the vocabulary if it changed since the last save.
func (v *Vocabulary) Flush() error {
	v.mu.RLock()
	dirty := v.dirty
	v.mu.RUnlock()
	if !dirty {
		return nil
	}
	return v.Save()
}
