// Package vaultsync keeps the vault, shadow cache, and memory store
// consistent under the rule that the vault is always authoritative.
// Vault→cache flows continuously through the watcher and note parser;
// this package owns the two slower directions: mirroring a note's
// projection into memory on every upsert, and reconciling the three
// stores in bulk at startup or on demand.
package vaultsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/memory"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// MirrorNamespace is the memory namespace vault note projections are
// mirrored into. Body content is never mirrored here.
const MirrorNamespace = "vault/notes"

// Config tunes batched reconciliation.
type Config struct {
	BatchSize   int
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 10
	}
	return c
}

// Syncer coordinates Vault, Cache, and Memory so the three agree on note
// state, applying the vault-wins conflict policy when cache and memory
// disagree about a note's last modification.
type Syncer struct {
	vaultio vaultio.VaultIO
	cache   *cache.Cache
	memory  *memory.Store
	log     zerolog.Logger
	cfg     Config
}

// New constructs a Syncer.
func New(vio vaultio.VaultIO, c *cache.Cache, mem *memory.Store, logger zerolog.Logger, cfg Config) *Syncer {
	return &Syncer{vaultio: vio, cache: c, memory: mem, log: logger, cfg: cfg.withDefaults()}
}

// projection is the subset of a note mirrored into memory: never the body.
type projection struct {
	Path         string                 `json:"path"`
	Frontmatter  map[string]interface{} `json:"frontmatter"`
	Tags         []string               `json:"tags"`
	LinkTargets  []string               `json:"linkTargets"`
	ModifiedAt   time.Time              `json:"modifiedAt"`
}

// MirrorNote mirrors path's current cache projection into memory. Called
// after every cache upsert so memory never lags the cache by more than one
// event. Conflict policy: if memory already holds a mirrored modifiedAt
// newer than or diverging from the cache's, the vault (and therefore the
// cache, which tracks it continuously) wins and memory is overwritten.
func (s *Syncer) MirrorNote(ctx context.Context, path string) error {
	n, found, err := s.cache.GetNote(ctx, path)
	if err != nil {
		return vwerr.New("vaultsync.MirrorNote", vwerr.VaultSyncFailed, err)
	}
	if !found {
		return nil
	}

	proj := projection{
		Path:        n.Path,
		Frontmatter: n.Frontmatter,
		Tags:        n.Tags,
		LinkTargets: linkTargets(ctx, s.cache, path),
		ModifiedAt:  n.ModTime,
	}
	data, err := json.Marshal(proj)
	if err != nil {
		return vwerr.New("vaultsync.MirrorNote", vwerr.VaultSyncFailed, err)
	}

	// Vault wins: unconditionally overwrite whatever memory held before,
	// since the cache's ModTime always reflects the vault's own mtime.
	if err := s.memory.Put(ctx, MirrorNamespace, path, data, 0); err != nil {
		return vwerr.New("vaultsync.MirrorNote", vwerr.VaultSyncFailed, err)
	}
	return nil
}

// UnmirrorNote removes path's projection from memory after a delete.
func (s *Syncer) UnmirrorNote(ctx context.Context, path string) error {
	if err := s.memory.Delete(ctx, MirrorNamespace, path); err != nil {
		return vwerr.New("vaultsync.UnmirrorNote", vwerr.VaultSyncFailed, err)
	}
	return nil
}

func linkTargets(ctx context.Context, c *cache.Cache, path string) []string {
	links, err := c.OutgoingLinks(ctx, path)
	if err != nil {
		return nil
	}
	targets := make([]string, 0, len(links))
	for _, l := range links {
		if l.ResolvedPath != "" {
			targets = append(targets, l.ResolvedPath)
		}
	}
	return targets
}

// FullSync reconciles cache and memory against the vault's current file
// list: every file is re-upserted into the cache (which re-derives
// frontmatter/tags/links from disk) and re-mirrored into memory; cache
// entries for files no longer on disk are removed. Work proceeds in
// batches of Config.BatchSize with up to Config.Parallelism notes
// processed concurrently within a batch.
func (s *Syncer) FullSync(ctx context.Context) error {
	// Taken before cache.FullSync drops entries for files no longer on disk,
	// so those paths can still be unmirrored below.
	known := s.cache.KnownPaths()
	if err := s.cache.FullSync(ctx, s.vaultio); err != nil {
		return vwerr.New("vaultsync.FullSync", vwerr.VaultSyncFailed, err)
	}

	paths, err := s.vaultio.ListFiles("")
	if err != nil {
		return vwerr.New("vaultsync.FullSync", vwerr.VaultSyncFailed, err)
	}

	for start := 0; start < len(paths); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(paths) {
			end = len(paths)
		}
		if err := s.syncBatch(ctx, paths[start:end]); err != nil {
			return err
		}
	}

	onDisk := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		onDisk[p] = struct{}{}
	}
	for p := range known {
		if _, ok := onDisk[p]; !ok {
			if err := s.UnmirrorNote(ctx, p); err != nil {
				s.log.Warn().Str("path", p).Err(err).Msg("failed to unmirror deleted note")
			}
		}
	}

	s.log.Info().Int("notes", len(paths)).Msg("vault sync: full reconciliation complete")
	return nil
}

func (s *Syncer) syncBatch(ctx context.Context, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if err := s.MirrorNote(gctx, p); err != nil {
				return fmt.Errorf("mirror %s: %w", p, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return vwerr.New("vaultsync.syncBatch", vwerr.VaultSyncFailed, err)
	}
	return nil
}
