// Package wordlectl implements the operator CLI: account registration,
// leaderboard streams, multicast listening and a line-based player.
package wordlectl

import (
	"fmt"
	"io"
	"strings"

	"wordle/server/internal/game"
	"wordle/server/internal/protocol"
)

// RenderHint marks a guess letter by letter: uppercase for correct letters,
// lowercase for misplaced ones and '.' for misses.
func RenderHint(guess string, hint game.Hint) string {
	marks := make([]byte, len(guess))
	for i := range marks {
		marks[i] = '.'
	}
	for _, p := range hint.Partial {
		if p < len(guess) {
			marks[p] = strings.ToLower(guess[p : p+1])[0]
		}
	}
	for _, p := range hint.Correct {
		if p < len(guess) {
			marks[p] = strings.ToUpper(guess[p : p+1])[0]
		}
	}
	return string(marks)
}

// RenderPattern draws a hint with no letters, as shared games carry none.
func RenderPattern(wordLen int, hint game.Hint) string {
	cells := make([]rune, wordLen)
	for i := range cells {
		cells[i] = '⬛'
	}
	for _, p := range hint.Partial {
		if p < wordLen {
			cells[p] = '🟨'
		}
	}
	for _, p := range hint.Correct {
		if p < wordLen {
			cells[p] = '🟩'
		}
	}
	return string(cells)
}

// WriteStandings prints a ranked table.
func WriteStandings(w io.Writer, rows []protocol.Standing) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(no ranked players)")
		return
	}
	for i, row := range rows {
		fmt.Fprintf(w, "%3d. %-24s %6.2f\n", i+1, row.Username, row.Score)
	}
}

// WriteShared prints a shared game in the familiar grid form.
func WriteShared(w io.Writer, shared protocol.SharedGame) {
	d := shared.Descriptor
	result := "X"
	if d.Won() {
		result = fmt.Sprintf("%d", d.TriesUsed)
	}
	fmt.Fprintf(w, "%s  game #%d  %s/%d\n", shared.Username, d.GameID, result, d.MaxTries)
	for _, hint := range d.Hints {
		fmt.Fprintln(w, RenderPattern(d.WordLen, hint))
	}
}

// WriteStats prints an account summary.
func WriteStats(w io.Writer, reply protocol.StatsReply) {
	s := reply.Stats
	fmt.Fprintf(w, "played %d  won %d  streak %d  best %d  score %.2f\n",
		s.TotalGames, s.WonGames, s.CurrentStreak, s.BestStreak, reply.Score)
	for i, n := range s.Distribution {
		if n > 0 {
			fmt.Fprintf(w, "  %2d: %s %d\n", i+1, strings.Repeat("#", n), n)
		}
	}
}
