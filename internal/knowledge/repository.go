// Package knowledge implements the global knowledge repository shared by all
// curator processes: file-backed pattern buckets under <root>/patterns, an
// in-process knowledge graph, and a watcher that reloads on change.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// PatternsDir is the subdirectory of a knowledge root that holds buckets.
const PatternsDir = "patterns"

// Repository reads and writes pattern buckets. Writers to the same bucket
// file are serialized; files are replaced via temp-file + rename so a
// partial write never corrupts a bucket.
type Repository struct {
	project string
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // One lock per bucket file
}

// NewRepository creates a repository that stamps saved patterns with project.
func NewRepository(project string) *Repository {
	return &Repository{
		project: project,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *Repository) lockFor(path string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[path]
	if !ok {
		l = &sync.Mutex{}
		r.locks[path] = l
	}
	return l
}

// BucketPath returns the bucket file for a pattern under root.
func BucketPath(root string, p types.Pattern) string {
	return filepath.Join(root, PatternsDir, bucketName(p)+"_patterns.json")
}

// bucketName derives the category key: the group type, else the pattern kind.
func bucketName(p types.Pattern) string {
	name := types.NormalizeIdentifier(p.GroupType)
	if name == "" {
		name = types.NormalizeIdentifier(string(p.Kind))
	}
	if name == "" {
		name = types.DefaultGroupType
	}
	return strings.ReplaceAll(name, "/", "-")
}

// =============================================================================
// LOADING
// =============================================================================

// LoadPatterns reads every pattern under <root>/patterns. A missing root
// yields an empty result; malformed files are skipped with a warning.
func (r *Repository) LoadPatterns(ctx context.Context, root string) ([]types.Pattern, error) {
	entries, err := r.LoadEntries(ctx, root)
	if err != nil {
		return nil, err
	}
	patterns := make([]types.Pattern, len(entries))
	for i, e := range entries {
		patterns[i] = e.Pattern
	}
	return patterns, nil
}

// LoadEntries reads every entry under <root>/patterns, keyed by pattern ID.
// When an ID appears more than once the most recently updated entry wins.
// Entries are returned sorted by ID.
func (r *Repository) LoadEntries(ctx context.Context, root string) ([]types.GlobalKnowledgeEntry, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Repository.LoadEntries")
	defer timer.Stop()

	dir := filepath.Join(root, PatternsDir)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			logging.KnowledgeDebug("No global patterns directory at %s", dir)
			return nil, nil
		}
		return nil, types.StorageError("LoadPatterns", dir, err)
	}

	byID := make(map[string]types.GlobalKnowledgeEntry)
	files := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.KnowledgeWarn("Skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !isPatternFile(path) {
			return nil
		}
		entries, err := readBucket(path)
		if err != nil {
			logging.KnowledgeWarn("Skipping malformed pattern file %s: %v", path, err)
			return nil
		}
		files++
		for _, e := range entries {
			if e.ID == "" {
				logging.KnowledgeWarn("Skipping pattern without id in %s", path)
				continue
			}
			if prev, ok := byID[e.ID]; ok && newer(prev, e) {
				continue
			}
			byID[e.ID] = e
		}
		return nil
	})
	if walkErr != nil {
		return nil, types.StorageError("LoadPatterns", dir, walkErr)
	}

	out := make([]types.GlobalKnowledgeEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	logging.Knowledge("Loaded %d global patterns from %d files under %s", len(out), files, dir)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditPatternLoad,
		Category:  string(logging.CategoryKnowledge),
		Target:    dir,
		Success:   true,
		Fields:    map[string]interface{}{"patterns": len(out), "files": files},
	})
	return out, nil
}

// newer reports whether a was updated after b.
func newer(a, b types.GlobalKnowledgeEntry) bool {
	if a.LastUpdatedMillis != b.LastUpdatedMillis {
		return a.LastUpdatedMillis > b.LastUpdatedMillis
	}
	return a.SavedAt.After(b.SavedAt)
}

func isPatternFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// readBucket decodes a bucket file. Both a list of entries and a single
// entry are accepted.
func readBucket(path string) ([]types.GlobalKnowledgeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var entries []types.GlobalKnowledgeEntry
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if data[0] == '[' {
			err = json.Unmarshal(data, &entries)
		} else {
			var single types.GlobalKnowledgeEntry
			if err = json.Unmarshal(data, &single); err == nil {
				entries = []types.GlobalKnowledgeEntry{single}
			}
		}
		return entries, err
	}

	if err := yaml.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}
	var single types.GlobalKnowledgeEntry
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []types.GlobalKnowledgeEntry{single}, nil
}

// =============================================================================
// SAVING
// =============================================================================

// SavePattern writes p into its category bucket under root, stamped with the
// repository's project tag and the current time. A pattern already present
// in the bucket is updated in place, keeping its usage bookkeeping.
// Returns the bucket path.
func (r *Repository) SavePattern(ctx context.Context, root string, p types.Pattern) (string, error) {
	return r.save(ctx, root, types.GlobalKnowledgeEntry{Pattern: p}, true)
}

// SaveEntry writes e into its category bucket, including its usage
// bookkeeping. Used to persist the knowledge graph's view of a pattern.
func (r *Repository) SaveEntry(ctx context.Context, root string, e types.GlobalKnowledgeEntry) (string, error) {
	return r.save(ctx, root, e, false)
}

func (r *Repository) save(ctx context.Context, root string, e types.GlobalKnowledgeEntry, keepUsage bool) (string, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Repository.Save")
	defer timer.Stop()

	p := e.Pattern
	if p.ID == "" {
		return "", types.ValidationError("SavePattern", "", fmt.Errorf("pattern id required"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := BucketPath(root, p)
	lock := r.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", types.StorageError("SavePattern", path, fmt.Errorf("failed to create patterns directory: %w", err))
	}

	existing, err := readBucket(path)
	if err != nil && !os.IsNotExist(err) {
		// A corrupt bucket is not overwritten; the caller keeps its copy.
		return "", types.StorageError("SavePattern", path, fmt.Errorf("failed to read bucket: %w", err))
	}

	now := r.now().UTC()
	entry := types.GlobalKnowledgeEntry{
		Pattern:           p.Clone(),
		GlobalUsageCount:  e.GlobalUsageCount,
		SuccessRate:       e.SuccessRate,
		LastUpdatedMillis: now.UnixMilli(),
		Project:           r.project,
		SavedAt:           now,
	}
	replaced := false
	for i := range existing {
		if existing[i].ID == p.ID {
			if keepUsage {
				entry.GlobalUsageCount = existing[i].GlobalUsageCount
				entry.SuccessRate = existing[i].SuccessRate
			}
			existing[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, entry)
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return "", types.ValidationError("SavePattern", p.ID, fmt.Errorf("failed to marshal bucket: %w", err))
	}
	if err := writeFileAtomic(path, data); err != nil {
		logging.Get(logging.CategoryKnowledge).Error("Failed to save pattern %s to %s: %v", p.ID, path, err)
		return "", types.StorageError("SavePattern", path, err)
	}

	logging.KnowledgeDebug("Saved pattern %s to %s (updated=%v)", p.ID, path, replaced)
	return path, nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
