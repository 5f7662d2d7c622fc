// Package storage keeps solved runs on disk. Each run is a directory
// holding metadata.json, the options as options.yaml and the sampled
// signals as trajectory.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/trajectory"
)

var ErrRunNotFound = errors.New("run not found")

const (
	metaFile    = "metadata.json"
	optionsFile = "options.yaml"
	signalFile  = "trajectory.csv"
)

type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata is the JSON summary of a run. The signals live in the CSV.
type RunMetadata struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Result    trajectory.Result `json:"result"`
}

// Save writes res and the options that produced it and returns the run id.
func (s *Store) Save(res *trajectory.Result, opts config.Options) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}
	now := s.now()
	base := fmt.Sprintf("%s_%d", res.Problem, now.Unix())
	runID := base
	for i := 1; ; i++ {
		err := os.Mkdir(filepath.Join(s.baseDir, runID), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		runID = fmt.Sprintf("%s_%d", base, i)
	}
	runDir := filepath.Join(s.baseDir, runID)

	meta := RunMetadata{ID: runID, Timestamp: now, Result: *res}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, metaFile), data, 0644); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, optionsFile), opts); err != nil {
		return "", err
	}
	if err := writeSignals(filepath.Join(runDir, signalFile), res); err != nil {
		return "", err
	}
	return runID, nil
}

func writeSignals(path string, res *trajectory.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"time"}, res.Names...)); err != nil {
		return err
	}
	row := make([]string, len(res.Names)+1)
	for i, t := range res.Time {
		row[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for j, name := range res.Names {
			s := res.Series[name]
			if i >= len(s) {
				return fmt.Errorf("series %q has %d samples, want %d", name, len(s), len(res.Time))
			}
			row[j+1] = strconv.FormatFloat(s[i], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the readable runs, newest first. Directories without valid
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Timestamp.Equal(runs[j].Timestamp) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadOptions(runID string) (config.Options, error) {
	opts, err := config.Load(filepath.Join(s.baseDir, runID, optionsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return opts, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return opts, err
}

// LoadResult rebuilds the full result of a run, signals included. It is
// what init_traj resolves to.
func (s *Store) LoadResult(runID string) (*trajectory.Result, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	res := meta.Result

	f, err := os.Open(filepath.Join(s.baseDir, runID, signalFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s signals: %w", runID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("run %s: empty %s", runID, signalFile)
	}
	header := records[0]
	if len(header) != len(res.Names)+1 || header[0] != "time" {
		return nil, fmt.Errorf("run %s: header does not match metadata", runID)
	}
	for j, name := range res.Names {
		if header[j+1] != name {
			return nil, fmt.Errorf("run %s: column %d is %q, want %q", runID, j+1, header[j+1], name)
		}
	}

	n := len(records) - 1
	res.Time = make([]float64, n)
	res.Series = make(map[string][]float64, len(res.Names))
	for _, name := range res.Names {
		res.Series[name] = make([]float64, n)
	}
	for i, rec := range records[1:] {
		if res.Time[i], err = strconv.ParseFloat(rec[0], 64); err != nil {
			return nil, fmt.Errorf("run %s row %d: %w", runID, i+1, err)
		}
		for j, name := range res.Names {
			if res.Series[name][i], err = strconv.ParseFloat(rec[j+1], 64); err != nil {
				return nil, fmt.Errorf("run %s row %d: %w", runID, i+1, err)
			}
		}
	}
	return &res, nil
}
