package access

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"dunrelay/base"
	"dunrelay/utils"
)

type Decision int

const (
	Unknown Decision = iota
	Allowed
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(s) {
	case "allowed", "allow":
		return Allowed, nil
	case "rejected", "reject":
		return Rejected, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("access: invalid decision %q", s)
}

// FileStore keeps one "address=true|false" line per decided device. A
// device without a line is Unknown.
type FileStore struct {
	mu     sync.Mutex
	rec    *utils.Record
	loaded bool
	prefs  map[string]bool
}

func NewFileStore(filename string) *FileStore {
	return &FileStore{rec: utils.NewRecord(filename), prefs: make(map[string]bool)}
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	if err := s.rec.Load(); err != nil {
		return err
	}
	for _, line := range s.rec.Contents {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			base.Warn("access: skip bad line", line)
			continue
		}
		s.prefs[normalize(k)] = b
	}
	s.loaded = true
	return nil
}

func (s *FileStore) Get(addr string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		base.Error("access: load", err)
		return Unknown
	}
	allowed, ok := s.prefs[normalize(addr)]
	if !ok {
		return Unknown
	}
	if allowed {
		return Allowed
	}
	return Rejected
}

// Set persists d for addr, Unknown removes the entry.
func (s *FileStore) Set(addr string, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	key := normalize(addr)
	old, had := s.prefs[key]
	if d == Unknown {
		if !had {
			return nil
		}
		delete(s.prefs, key)
	} else {
		s.prefs[key] = d == Allowed
	}
	if err := s.rec.Write(s.linesLocked()); err != nil {
		// keep memory and disk consistent
		if had {
			s.prefs[key] = old
		} else {
			delete(s.prefs, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) All() map[string]Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Decision, len(s.prefs))
	if err := s.loadLocked(); err != nil {
		base.Error("access: load", err)
		return out
	}
	for k, v := range s.prefs {
		if v {
			out[k] = Allowed
		} else {
			out[k] = Rejected
		}
	}
	return out
}

func (s *FileStore) linesLocked() []string {
	lines := make([]string, 0, len(s.prefs))
	for k, v := range s.prefs {
		lines = append(lines, k+"="+strconv.FormatBool(v))
	}
	sort.Strings(lines)
	return lines
}

func normalize(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
