// Package memory implementa ports.Storage em memória, para ambientes de uma
// única instância e para testes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

type stringEntry struct {
	value     string
	expiresAt time.Time
}

func (e stringEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type zsetEntry struct {
	member string
	score  int64
}

type Storage struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]stringEntry
	zsets   map[string][]zsetEntry
	lists   map[string][]string
}

var _ ports.Storage = (*Storage)(nil)

type Option func(*Storage)

// WithClock troca o relógio usado para expiração.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

func New(opts ...Option) *Storage {
	s := &Storage{
		now:     time.Now,
		strings: make(map[string]stringEntry),
		zsets:   make(map[string][]zsetEntry),
		lists:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup deve ser chamado com mu travado. Remove a chave se já expirou.
func (s *Storage) lookup(key string) (stringEntry, bool) {
	e, ok := s.strings[key]
	if !ok {
		return stringEntry{}, false
	}
	if e.expired(s.now()) {
		delete(s.strings, key)
		return stringEntry{}, false
	}
	return e, true
}

func (s *Storage) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	return e.value, ok, nil
}

func (s *Storage) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strings[key] = stringEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *Storage) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.strings[key] = stringEntry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *Storage) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, fmt.Errorf("incr %s: %w", key, domain.ErrKeyNotFound)
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incr %s: value is not an integer", key)
	}

	n++
	e.value = strconv.FormatInt(n, 10)
	s.strings[key] = e
	return n, nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return true, nil
	}
	if len(s.zsets[key]) > 0 || len(s.lists[key]) > 0 {
		return true, nil
	}
	return false, nil
}

func (s *Storage) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false, nil
	}
	return e.expiresAt.Sub(s.now()), true, nil
}

func (s *Storage) ZAdd(_ context.Context, key, member string, score int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.zsets[key]
	for i, e := range entries {
		if e.member == member {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}

	// mantém ordenado por score e, no empate, por membro
	idx := sort.Search(len(entries), func(i int) bool {
		if entries[i].score != score {
			return entries[i].score > score
		}
		return entries[i].member > member
	})
	entries = append(entries, zsetEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = zsetEntry{member: member, score: score}

	s.zsets[key] = entries
	return nil
}

func (s *Storage) ZRangeByScore(_ context.Context, key string, min, max int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []string
	for _, e := range s.zsets[key] {
		if e.score >= min && e.score <= max {
			members = append(members, e.member)
		}
	}
	return members, nil
}

func (s *Storage) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.zsets[key])), nil
}

func (s *Storage) ZRemRangeByScore(_ context.Context, key string, min, max int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.zsets[key]
	kept := entries[:0]
	var removed int64
	for _, e := range entries {
		if e.score >= min && e.score <= max {
			removed++
			continue
		}
		kept = append(kept, e)
	}

	if len(kept) == 0 {
		delete(s.zsets, key)
	} else {
		s.zsets[key] = kept
	}
	return removed, nil
}

func (s *Storage) ListPush(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], value)
	return nil
}

func (s *Storage) ListPopFront(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}

	value := list[0]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[1:]
	}
	return value, true, nil
}

func (s *Storage) ListLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.lists[key])), nil
}

// Cleanup remove as chaves de string expiradas e devolve quantas foram apagadas.
func (s *Storage) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.strings {
		if e.expired(now) {
			delete(s.strings, key)
			removed++
		}
	}
	return removed
}

// StartJanitor roda Cleanup a cada interval até o contexto ser cancelado.
func (s *Storage) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
