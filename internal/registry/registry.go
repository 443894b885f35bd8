// Package registry owns user accounts and enforces that each account is
// driven by at most one active session.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"wordle/server/internal/game"
)

var (
	// ErrInvalidUser is returned when the username is unknown or the password differs.
	ErrInvalidUser = errors.New("registry: invalid username or password")
	// ErrAlreadyLogged is returned when another session currently owns the account.
	ErrAlreadyLogged = errors.New("registry: user already logged in")
	// ErrUserTaken is returned when registering an existing username.
	ErrUserTaken = errors.New("registry: username already taken")
	// ErrInvalidCredentials is returned when a username or password fails validation.
	ErrInvalidCredentials = errors.New("registry: invalid credentials")
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_]{2,64}$`)
	passwordPattern = regexp.MustCompile(`^[!-~]{4,64}$`)
)

// Record is the persisted form of an account.
type Record struct {
	Username string           `json:"username"`
	Password string           `json:"password"`
	Stats    game.Stats       `json:"stats"`
	LastGame *game.Descriptor `json:"lastGame,omitempty"`
}

// account is mutated only by the session holding its lease; mu serialises
// those writes with snapshot reads.
type account struct {
	mu       sync.Mutex
	username string
	password string
	stats    game.Stats
	lastGame *game.Descriptor
}

func (a *account) record() Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := Record{Username: a.username, Password: a.password, Stats: a.stats}
	if a.lastGame != nil {
		last := a.lastGame.Clone()
		rec.LastGame = &last
	}
	return rec
}

// presence survives logouts so a returning user keeps their round.
type presence struct {
	active bool
	round  game.Round
}

// Registry is the authoritative username to account map.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*account
	presence map[string]*presence
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		accounts: make(map[string]*account),
		presence: make(map[string]*presence),
	}
}

// ValidateCredentials checks a username and password against the
// registration rules.
func ValidateCredentials(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must start with a letter or digit and contain 3 to 65 letters, digits or underscores", ErrInvalidCredentials)
	}
	if !passwordPattern.MatchString(password) {
		return fmt.Errorf("%w: password must be 4 to 64 printable characters without spaces", ErrInvalidCredentials)
	}
	return nil
}

// Register creates a new account.
func (r *Registry) Register(username, password string) error {
	if err := ValidateCredentials(username, password); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[username]; exists {
		return ErrUserTaken
	}
	r.accounts[username] = &account{username: username, password: password}
	return nil
}

// Acquire authenticates username and hands out the exclusive lease on the
// account. The active check and the claim happen under one lock.
func (r *Registry) Acquire(username, password string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[username]
	if !ok || acct.password != password {
		return nil, ErrInvalidUser
	}
	p, ok := r.presence[username]
	if !ok {
		p = &presence{}
		r.presence[username] = p
	}
	if p.active {
		return nil, ErrAlreadyLogged
	}
	p.active = true
	return &Lease{registry: r, account: acct, presence: p}, nil
}

// Active reports whether a session currently owns username.
func (r *Registry) Active(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[username]
	return ok && p.active
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Snapshot returns a copy of every account sorted by username.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	accounts := make([]*account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		accounts = append(accounts, acct)
	}
	r.mu.RUnlock()

	records := make([]Record, 0, len(accounts))
	for _, acct := range accounts {
		records = append(records, acct.record())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Username < records[j].Username })
	return records
}

// Restore replaces the account set. It must run before any session starts.
func (r *Registry) Restore(records []Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[string]*account, len(records))
	r.presence = make(map[string]*presence)
	for _, rec := range records {
		acct := &account{username: rec.Username, password: rec.Password, stats: rec.Stats}
		if rec.LastGame != nil {
			last := rec.LastGame.Clone()
			acct.lastGame = &last
		}
		r.accounts[rec.Username] = acct
	}
}

func (r *Registry) release(p *presence) {
	r.mu.Lock()
	p.active = false
	r.mu.Unlock()
}

// Lease is the exclusive right of one session to drive an account. It is
// not safe for concurrent use; the holder is a single session.
type Lease struct {
	registry *Registry
	account  *account
	presence *presence
	released bool
}

// Username returns the leased account name.
func (l *Lease) Username() string { return l.account.username }

// Round returns the account's retained round. The pointer stays valid for
// the lifetime of the lease.
func (l *Lease) Round() *game.Round { return &l.presence.round }

// Stats returns a copy of the account statistics.
func (l *Lease) Stats() game.Stats {
	l.account.mu.Lock()
	defer l.account.mu.Unlock()
	return l.account.stats
}

// LastGame returns the most recently completed game, if any.
func (l *Lease) LastGame() (game.Descriptor, bool) {
	l.account.mu.Lock()
	defer l.account.mu.Unlock()
	if l.account.lastGame == nil {
		return game.Descriptor{}, false
	}
	return l.account.lastGame.Clone(), true
}

// CommitWin records the current round as won and returns the updated stats.
func (l *Lease) CommitWin() game.Stats {
	return l.commit(true)
}

// CommitLoss records the current round as lost and returns the updated stats.
func (l *Lease) CommitLoss() game.Stats {
	return l.commit(false)
}

func (l *Lease) commit(won bool) game.Stats {
	round := &l.presence.round
	desc := round.Describe(won)

	l.account.mu.Lock()
	defer l.account.mu.Unlock()
	if won {
		l.account.stats.RecordWin(round.TriesUsed())
	} else {
		l.account.stats.RecordLoss()
	}
	l.account.lastGame = &desc
	return l.account.stats
}

// Release gives the account back. Later calls are no-ops.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.registry.release(l.presence)
}
