package session

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pool errors.
var (
	ErrMaxSessions     = errors.New("max sessions reached")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is already running")
	ErrIDCollision     = errors.New("session id collision")
)

// InvalidShellError reports a shell path that does not exist.
type InvalidShellError struct {
	Path string
}

func (e *InvalidShellError) Error() string {
	return fmt.Sprintf("shell not found: %s", e.Path)
}

// InvalidWorkingDirError reports a working directory that does not exist.
type InvalidWorkingDirError struct {
	Path string
}

func (e *InvalidWorkingDirError) Error() string {
	return fmt.Sprintf("working_dir not found: %s", e.Path)
}

// CreateInput carries fully resolved parameters for a new session; defaults
// are the caller's job.
type CreateInput struct {
	Shell      string
	WorkingDir string
	Env        map[string]string
	Name       string
	TimeoutS   int64
}

// Pool owns every session record. A single read/write mutex guards the map
// and no method suspends while holding it.
type Pool struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewPool creates an empty pool with the given capacity ceiling.
func NewPool(maxSessions int) *Pool {
	return &Pool{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create validates the input, inserts a fresh Idle session and returns a
// copy of the record.
func (p *Pool) Create(input CreateInput) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sessions) >= p.maxSessions {
		return nil, ErrMaxSessions
	}
	if _, err := os.Stat(input.Shell); err != nil {
		return nil, &InvalidShellError{Path: input.Shell}
	}
	if _, err := os.Stat(input.WorkingDir); err != nil {
		return nil, &InvalidWorkingDirError{Path: input.WorkingDir}
	}

	id, err := p.nextID()
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(input.Env))
	for k, v := range input.Env {
		env[k] = v
	}

	now := time.Now().UTC().Truncate(time.Second)
	sess := &Session{
		SessionID:    id,
		Name:         input.Name,
		Shell:        input.Shell,
		WorkingDir:   input.WorkingDir,
		Env:          env,
		State:        StateIdle,
		CreatedAt:    now,
		LastActivity: now,
		TimeoutS:     input.TimeoutS,
	}
	p.sessions[id] = sess
	return sess.clone(), nil
}

// nextID draws s-XXXXXXXX ids until one is free. A collision within one pool
// is astronomically unlikely; the retry bound makes a broken random source
// fail loudly instead of overwriting a live session.
func (p *Pool) nextID() (string, error) {
	for i := 0; i < 3; i++ {
		u := uuid.New()
		id := fmt.Sprintf("s-%x", u[:4])
		if _, exists := p.sessions[id]; !exists {
			return id, nil
		}
	}
	return "", ErrIDCollision
}

// List returns a snapshot copy of every session, order unspecified.
func (p *Pool) List() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		result = append(result, sess.clone())
	}
	return result
}

// Get returns a copy of one session, or false if it does not exist.
func (p *Pool) Get(id string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sess, ok := p.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Destroy removes a session. A Running session is only removed with force.
func (p *Pool) Destroy(id string, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.State == StateRunning && !force {
		return ErrSessionBusy
	}
	delete(p.sessions, id)
	return nil
}

// Admit atomically transitions a session Idle → Running and returns a copy
// of the record for the command about to run. Until MarkIdle releases the
// session, every other Admit on it fails with ErrSessionBusy.
func (p *Pool) Admit(id string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.State == StateRunning {
		return nil, ErrSessionBusy
	}
	sess.State = StateRunning
	sess.LastActivity = time.Now().UTC().Truncate(time.Second)
	return sess.clone(), nil
}

// MarkRunning transitions a session to Running without copying the record.
func (p *Pool) MarkRunning(id string) error {
	_, err := p.Admit(id)
	return err
}

// MarkIdle transitions a session back to Idle, stamps its activity and
// counts the completed command.
func (p *Pool) MarkIdle(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.State = StateIdle
	sess.LastActivity = time.Now().UTC().Truncate(time.Second)
	sess.CommandCount++
	return nil
}

// CleanupIdle removes every Idle session whose last activity is at least
// maxIdleSec old and returns how many were removed.
func (p *Pool) CleanupIdle(maxIdleSec int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, sess := range p.sessions {
		if sess.IdleTooLong(maxIdleSec, now) {
			delete(p.sessions, id)
			count++
		}
	}
	return count
}

// CleanupExpired removes every session older than ttlSec, sparing Running
// ones, and returns how many were removed.
func (p *Pool) CleanupExpired(ttlSec int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, sess := range p.sessions {
		if sess.State != StateRunning && sess.ExceededTTL(ttlSec, now) {
			delete(p.sessions, id)
			count++
		}
	}
	return count
}

// CleanupOldestIdle removes up to n Idle sessions, least recently active
// first, and returns how many were removed.
func (p *Pool) CleanupOldestIdle(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 || len(p.sessions) == 0 {
		return 0
	}

	type candidate struct {
		id           string
		lastActivity time.Time
	}
	idle := make([]candidate, 0, len(p.sessions))
	for id, sess := range p.sessions {
		if sess.State == StateIdle {
			idle = append(idle, candidate{id: id, lastActivity: sess.LastActivity})
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].lastActivity.Before(idle[j].lastActivity)
	})

	if n > len(idle) {
		n = len(idle)
	}
	for _, c := range idle[:n] {
		delete(p.sessions, c.id)
	}
	return n
}

// Active returns the number of sessions in the pool.
func (p *Pool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// IsRunning reports whether the session currently has a command in flight.
func (p *Pool) IsRunning(id string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sess, ok := p.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	return sess.State == StateRunning, nil
}

// DestroyAll clears the pool and returns how many sessions were removed.
func (p *Pool) DestroyAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := len(p.sessions)
	p.sessions = make(map[string]*Session)
	return count
}
