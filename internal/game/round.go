package game

// Round is the in-flight state of one account's current game. A zero Round
// has GameID 0, which never matches an issued game.
type Round struct {
	GameID    int64
	Secret    string
	TriesLeft int
	Hints     []Hint
}

// Start binds the round to a freshly issued secret.
func (r *Round) Start(gameID int64, secret string) {
	r.GameID = gameID
	r.Secret = secret
	r.TriesLeft = MaxTries
	r.Hints = nil
}

// Guess spends one try on guess, records the resulting hint and reports
// whether it solved the round.
func (r *Round) Guess(guess string) (Hint, bool) {
	if r.TriesLeft > 0 {
		r.TriesLeft--
	}
	hint := ComputeHints(r.Secret, guess)
	r.Hints = append(r.Hints, hint)
	return hint, guess == r.Secret
}

// TriesUsed is the number of guesses spent so far.
func (r *Round) TriesUsed() int { return MaxTries - r.TriesLeft }

// Describe summarises the round once it is over.
func (r *Round) Describe(won bool) Descriptor {
	tries := -1
	if won {
		tries = r.TriesUsed()
	}
	hints := make([]Hint, len(r.Hints))
	for i, h := range r.Hints {
		hints[i] = h.Clone()
	}
	return Descriptor{
		GameID:    r.GameID,
		TriesUsed: tries,
		MaxTries:  MaxTries,
		WordLen:   len(r.Secret),
		Hints:     hints,
	}
}
