// Package game holds the rules of a single word-guessing round: hint
// computation, per-account statistics and completed game descriptors.
package game

// MaxTries is the number of guesses allowed per round.
const MaxTries = 12

// LostTriesPenalty is charged for every lost game when computing a score.
const LostTriesPenalty = MaxTries + 1

// Hint lists the zero-based guess positions that matched exactly (Correct)
// and the positions whose letter occurs elsewhere in the secret (Partial).
type Hint struct {
	Correct []int `json:"correct"`
	Partial []int `json:"partial"`
}

// Solved reports whether every position of a word of length n is correct.
func (h Hint) Solved(n int) bool {
	return len(h.Partial) == 0 && len(h.Correct) == n
}

// Clone returns a deep copy of the hint.
func (h Hint) Clone() Hint {
	return Hint{
		Correct: append([]int(nil), h.Correct...),
		Partial: append([]int(nil), h.Partial...),
	}
}

// ComputeHints compares guess against secret byte by byte. Exact matches win
// over partial matches, and a guess letter is never credited as partial more
// often than it occurs unmatched in the secret.
func ComputeHints(secret, guess string) Hint {
	hint := Hint{Correct: []int{}, Partial: []int{}}
	remaining := make(map[byte]int, len(secret))
	matched := make([]bool, len(guess))

	//1.- Mark exact matches and count the secret letters left unmatched.
	for k := 0; k < len(secret); k++ {
		if k < len(guess) && secret[k] == guess[k] {
			hint.Correct = append(hint.Correct, k)
			matched[k] = true
			continue
		}
		remaining[secret[k]]++
	}

	//2.- Credit the leftover guess letters left to right while stock lasts.
	for k := 0; k < len(guess); k++ {
		if matched[k] {
			continue
		}
		if remaining[guess[k]] > 0 {
			hint.Partial = append(hint.Partial, k)
			remaining[guess[k]]--
		}
	}
	return hint
}
