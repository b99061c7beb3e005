package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"ballot-backend/logging"
	"ballot-backend/models"
)

const (
	VotesDirName = "votes"
	tempPrefix   = ".tmp-"
	recordExt    = ".json"
)

// FileStore keeps one pretty-printed JSON file per ballot under
// <dataPath>/votes, named "<addr>-<category>.json". The name is the index, so
// the directory can be audited or re-tallied with nothing but a shell.
type FileStore struct {
	votesDir string
	logger   *log.Entry
}

// NewFileStore creates a store rooted at <dataPath>/votes. The directory is
// created on first Persist.
func NewFileStore(dataPath string, logger log.FieldLogger) *FileStore {
	return &FileStore{
		votesDir: filepath.Join(dataPath, VotesDirName),
		logger:   logging.Module(logger, "storage/file"),
	}
}

// VotesDir returns the directory holding ballot files.
func (s *FileStore) VotesDir() string {
	return s.votesDir
}

func (s *FileStore) recordPath(addr, category string) string {
	return filepath.Join(s.votesDir, KeyName(addr, category)+recordExt)
}

// Exists reports whether a ballot for (addr, category) is stored. A missing
// votes directory means nothing is stored.
func (s *FileStore) Exists(ctx context.Context, addr, category string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !ValidAddress(addr) || !ValidKeyPart(category) {
		return false, nil
	}
	_, err := os.Stat(s.recordPath(addr, category))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &StoreError{Op: "exists", Err: err}
	}
}

// ListByAddress returns every readable ballot for addr. Unparseable records
// are skipped so one corrupt file cannot hide the rest.
func (s *FileStore) ListByAddress(ctx context.Context, addr string) ([]models.Vote, error) {
	if !ValidAddress(addr) {
		return []models.Vote{}, nil
	}
	return s.scan(ctx, addr+"-", func(v models.Vote) bool { return v.Addr == addr })
}

// All returns every readable ballot in the store.
func (s *FileStore) All(ctx context.Context) ([]models.Vote, error) {
	return s.scan(ctx, "", func(models.Vote) bool { return true })
}

func (s *FileStore) scan(ctx context.Context, prefix string, keep func(models.Vote) bool) ([]models.Vote, error) {
	votes := []models.Vote{}

	entries, err := os.ReadDir(s.votesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return votes, nil
		}
		return nil, &StoreError{Op: "list", Err: err}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, recordExt) {
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.votesDir, name))
		if err != nil {
			s.logger.WithFields(log.Fields{"event": "vote_read_failed", "file": name, "error": err.Error()}).
				Warn("skipping unreadable ballot")
			continue
		}
		var vote models.Vote
		if err := json.Unmarshal(data, &vote); err != nil {
			s.logger.WithFields(log.Fields{"event": "vote_decode_failed", "file": name, "error": err.Error()}).
				Warn("skipping corrupt ballot")
			continue
		}
		if keep(vote) {
			votes = append(votes, vote)
		}
	}

	sort.Slice(votes, func(i, j int) bool {
		if votes[i].TimeMs != votes[j].TimeMs {
			return votes[i].TimeMs < votes[j].TimeMs
		}
		return KeyName(votes[i].Addr, votes[i].CategorySlug) < KeyName(votes[j].Addr, votes[j].CategorySlug)
	})
	return votes, nil
}

// Persist writes the ballot to a temp file, syncs it, then hard-links it to
// its final name. The link fails if the name exists, which makes the write
// create-if-absent across goroutines and processes, and readers never see a
// partial record.
func (s *FileStore) Persist(ctx context.Context, vote models.Vote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidAddress(vote.Addr) || !ValidKeyPart(vote.CategorySlug) {
		return &StoreError{Op: "persist", Err: fmt.Errorf("%w: %q/%q", ErrInvalidKey, vote.Addr, vote.CategorySlug)}
	}

	if err := os.MkdirAll(s.votesDir, 0755); err != nil {
		return &StoreError{Op: "persist", Err: fmt.Errorf("create votes dir: %w", err)}
	}

	data, err := json.MarshalIndent(vote, "", "  ")
	if err != nil {
		return &StoreError{Op: "persist", Err: fmt.Errorf("marshal vote: %w", err)}
	}

	tmp, err := os.CreateTemp(s.votesDir, tempPrefix+"*")
	if err != nil {
		return &StoreError{Op: "persist", Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &StoreError{Op: "persist", Err: fmt.Errorf("write vote: %w", err)}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StoreError{Op: "persist", Err: fmt.Errorf("sync vote: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &StoreError{Op: "persist", Err: fmt.Errorf("close vote: %w", err)}
	}

	final := s.recordPath(vote.Addr, vote.CategorySlug)
	if err := os.Link(tmpPath, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyExists
		}
		return &StoreError{Op: "persist", Err: fmt.Errorf("link vote: %w", err)}
	}

	if err := syncDir(s.votesDir); err != nil {
		s.logger.WithFields(log.Fields{"event": "votes_dir_sync_failed", "error": err.Error()}).
			Warn("could not sync votes directory")
	}

	s.logger.WithFields(log.Fields{
		"event":    "vote_persisted",
		"addr":     vote.Addr,
		"category": vote.CategorySlug,
	}).Debug("vote persisted")
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
