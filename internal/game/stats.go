package game

// Descriptor is an immutable summary of one completed round.
type Descriptor struct {
	GameID    int64  `json:"gameId"`
	TriesUsed int    `json:"tries"`
	MaxTries  int    `json:"maxTries"`
	WordLen   int    `json:"wordLen"`
	Hints     []Hint `json:"hints"`
}

// Won reports whether the round ended with the secret guessed.
func (d Descriptor) Won() bool { return d.TriesUsed >= 0 }

// Clone returns a deep copy so callers can hand it across goroutines.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Hints = make([]Hint, len(d.Hints))
	for i, h := range d.Hints {
		out.Hints[i] = h.Clone()
	}
	return out
}

// Stats are the cumulative results of one account.
type Stats struct {
	TotalGames    int           `json:"totalGames"`
	WonGames      int           `json:"wonGames"`
	CurrentStreak int           `json:"currentStreak"`
	BestStreak    int           `json:"bestStreak"`
	Distribution  [MaxTries]int `json:"guessDistribution"`
}

// RecordWin registers a round solved in tries guesses.
func (s *Stats) RecordWin(tries int) {
	s.TotalGames++
	s.WonGames++
	s.CurrentStreak++
	if s.CurrentStreak > s.BestStreak {
		s.BestStreak = s.CurrentStreak
	}
	if tries >= 1 && tries <= MaxTries {
		s.Distribution[tries-1]++
	}
}

// RecordLoss registers a round that ended without the secret guessed.
func (s *Stats) RecordLoss() {
	s.TotalGames++
	s.CurrentStreak = 0
}

// Score is the average number of tries per game, counting every lost game
// as LostTriesPenalty. Lower is better. Accounts without games score zero.
func (s Stats) Score() float64 {
	if s.TotalGames == 0 {
		return 0
	}
	sum := 0
	for i, count := range s.Distribution {
		sum += (i + 1) * count
	}
	sum += LostTriesPenalty * (s.TotalGames - s.WonGames)
	return float64(sum) / float64(s.TotalGames)
}
