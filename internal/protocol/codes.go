// Package protocol implements the length-prefixed binary wire format spoken
// between game clients and the server, plus the multicast share datagram.
package protocol

import "fmt"

const (
	// MaxFrameBytes is the default cap for a single frame payload.
	MaxFrameBytes = 1024
	// MaxDatagramBytes caps one shared game datagram.
	MaxDatagramBytes = 512
	// MaxWordBytes caps the size of a guessed or secret word.
	MaxWordBytes = 48
	// DefaultTopK is used when a top leaderboard request carries no count.
	DefaultTopK = 3
)

// Action is the first byte of every client request.
type Action byte

const (
	ActionLogin           Action = 0
	ActionLogout          Action = 1
	ActionPlay            Action = 2
	ActionSendWord        Action = 3
	ActionStats           Action = 4
	ActionTopLeaderboard  Action = 5
	ActionFullLeaderboard Action = 6
	ActionShare           Action = 7
)

func (a Action) String() string {
	switch a {
	case ActionLogin:
		return "login"
	case ActionLogout:
		return "logout"
	case ActionPlay:
		return "play"
	case ActionSendWord:
		return "send_word"
	case ActionStats:
		return "stats"
	case ActionTopLeaderboard:
		return "top_leaderboard"
	case ActionFullLeaderboard:
		return "full_leaderboard"
	case ActionShare:
		return "share"
	default:
		return fmt.Sprintf("action(%d)", byte(a))
	}
}

// Status is the first byte of every server response.
type Status byte

const (
	StatusSuccess            Status = 1
	StatusInvalidUser        Status = 2
	StatusActionUnauthorized Status = 3
	StatusAlreadyPlayed      Status = 4
	StatusNoTriesLeft        Status = 5
	StatusInvalidWord        Status = 6
	StatusAlreadyLogged      Status = 7
	StatusGameWon            Status = 8
	StatusNoGame             Status = 9
	StatusGenericError       Status = 0xFF
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidUser:
		return "invalid_user"
	case StatusActionUnauthorized:
		return "action_unauthorized"
	case StatusAlreadyPlayed:
		return "already_played"
	case StatusNoTriesLeft:
		return "no_tries_left"
	case StatusInvalidWord:
		return "invalid_word"
	case StatusAlreadyLogged:
		return "already_logged"
	case StatusGameWon:
		return "game_won"
	case StatusNoGame:
		return "no_game"
	case StatusGenericError:
		return "generic_error"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}
