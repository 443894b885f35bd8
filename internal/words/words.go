// Package words loads the secret word candidates and the guess dictionary.
package words

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"

	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
)

// ErrEmpty is returned when a list yields no usable word.
var ErrEmpty = errors.New("words: list is empty")

// Dictionary holds secret candidates plus every word accepted as a guess.
type Dictionary struct {
	secrets  []string
	accepted map[string]struct{}
}

// NewDictionary builds a dictionary from secret candidates and optional
// extra guessable words.
func NewDictionary(secrets, extra []string) (*Dictionary, error) {
	secrets = normalise(secrets)
	if len(secrets) == 0 {
		return nil, ErrEmpty
	}
	accepted := make(map[string]struct{}, len(secrets)+len(extra))
	lo.ForEach(secrets, func(w string, _ int) { accepted[w] = struct{}{} })
	lo.ForEach(normalise(extra), func(w string, _ int) { accepted[w] = struct{}{} })
	return &Dictionary{secrets: secrets, accepted: accepted}, nil
}

// Load reads the secret list at secretsPath and, when acceptedPath is not
// empty, the extra guess list.
func Load(secretsPath, acceptedPath string) (*Dictionary, error) {
	logger := logging.L().With(logging.String("component", "words"))
	secrets, err := readFile(secretsPath)
	if err != nil {
		return nil, err
	}
	var extra []string
	if strings.TrimSpace(acceptedPath) != "" {
		if extra, err = readFile(acceptedPath); err != nil {
			return nil, err
		}
	}
	dict, err := NewDictionary(secrets, extra)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", secretsPath, err)
	}
	logger.Info("dictionary loaded", logging.Int("secrets", len(dict.secrets)), logging.Int("accepted", len(dict.accepted)))
	return dict, nil
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses one word per line from r.
func Read(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return out, nil
}

func normalise(raw []string) []string {
	trimmed := lo.Map(raw, func(w string, _ int) string { return strings.TrimSpace(w) })
	kept := lo.Filter(trimmed, func(w string, _ int) bool {
		if w == "" {
			return false
		}
		if len(w) > protocol.MaxWordBytes {
			logging.L().Warn("skipping oversized word", logging.String("word", w), logging.Int("bytes", len(w)))
			return false
		}
		return true
	})
	return lo.Uniq(kept)
}

// Secrets returns the secret candidates in load order.
func (d *Dictionary) Secrets() []string {
	return append([]string(nil), d.secrets...)
}

// Len returns the number of secret candidates.
func (d *Dictionary) Len() int { return len(d.secrets) }

// At returns the i-th secret candidate.
func (d *Dictionary) At(i int) string { return d.secrets[i] }

// Contains reports whether word is accepted as a guess.
func (d *Dictionary) Contains(word string) bool {
	_, ok := d.accepted[word]
	return ok
}
