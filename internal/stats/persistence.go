// Package stats keeps narration totals across runs.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// statsVersion is bumped when the schema changes.
	statsVersion = 1

	statsFileName = "stats.json"
	appDirName    = "valvoice"
)

// Stats is the persistent narration summary, stored at
// ~/.local/state/valvoice/stats.json (respecting XDG_STATE_HOME).
type Stats struct {
	Version int `json:"version"`

	TotalMessages   int64 `json:"totalMessages"`
	TotalCharacters int64 `json:"totalCharacters"`
	LongestMessage  int   `json:"longestMessage"`
	Runs            int   `json:"runs"`

	PerChannel map[string]ChannelTotals `json:"perChannel"`
	PerSender  map[string]int64         `json:"perSender"`

	FirstNarratedAt time.Time `json:"firstNarratedAt,omitzero"`
	LastNarratedAt  time.Time `json:"lastNarratedAt,omitzero"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

type ChannelTotals struct {
	Messages   int64 `json:"messages"`
	Characters int64 `json:"characters"`
}

// Store handles loading and saving Stats to disk.
type Store struct {
	dir string
}

// NewStore creates a Store in dir. An empty dir selects the XDG state
// path. The directory is created on the first Save.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultStatsDir()
	}
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, statsFileName)
}

// Load reads stats from disk. A missing file yields empty stats.
func (s *Store) Load() (*Stats, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return newStats(), nil
		}
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing stats: %w", err)
	}
	st.initMaps()
	return &st, nil
}

// Save writes stats with a temp-file-then-rename so a crash never leaves a
// truncated file behind.
func (s *Store) Save(st *Stats) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating stats dir: %w", err)
	}

	st.Version = statsVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".stats-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming stats file: %w", err)
	}
	committed = true
	return nil
}

func newStats() *Stats {
	st := &Stats{Version: statsVersion}
	st.initMaps()
	return st
}

func (st *Stats) initMaps() {
	if st.PerChannel == nil {
		st.PerChannel = make(map[string]ChannelTotals)
	}
	if st.PerSender == nil {
		st.PerSender = make(map[string]int64)
	}
}

func (st *Stats) clone() *Stats {
	cp := *st
	cp.PerChannel = make(map[string]ChannelTotals, len(st.PerChannel))
	for k, v := range st.PerChannel {
		cp.PerChannel[k] = v
	}
	cp.PerSender = make(map[string]int64, len(st.PerSender))
	for k, v := range st.PerSender {
		cp.PerSender[k] = v
	}
	return &cp
}

// defaultStatsDir returns ~/.local/state/valvoice, respecting
// XDG_STATE_HOME if set.
func defaultStatsDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
