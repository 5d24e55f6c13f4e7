package lichess

import "strings"

type EventType string

const (
	EventGameStart         EventType = "gameStart"
	EventGameFinish        EventType = "gameFinish"
	EventChallenge         EventType = "challenge"
	EventChallengeCanceled EventType = "challengeCanceled"
	EventChallengeDeclined EventType = "challengeDeclined"
	EventGameState         EventType = "gameState"
	EventGameFull          EventType = "gameFull"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

type GameStatus string

const (
	StatusCreated       GameStatus = "created"
	StatusStarted       GameStatus = "started"
	StatusAborted       GameStatus = "aborted"
	StatusMate          GameStatus = "mate"
	StatusResign        GameStatus = "resign"
	StatusStalemate     GameStatus = "stalemate"
	StatusTimeout       GameStatus = "timeout"
	StatusDraw          GameStatus = "draw"
	StatusOutOfTime     GameStatus = "outoftime"
	StatusCheat         GameStatus = "cheat"
	StatusNoStart       GameStatus = "noStart"
	StatusUnknownFinish GameStatus = "unknownFinish"
	StatusVariantEnd    GameStatus = "variantEnd"
)

// Terminal reports whether a session should stop following the game: anything
// but "started", unknown statuses included.
func (s GameStatus) Terminal() bool {
	return s != StatusStarted
}

type Variant struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Title    string `json:"title,omitempty"`
	Rating   int    `json:"rating,omitempty"`
}

// Handle returns the display name, whichever field the endpoint filled.
func (u User) Handle() string {
	if u.Username != "" {
		return u.Username
	}
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

type TimeControl struct {
	Type      string `json:"type,omitempty"`
	Limit     int    `json:"limit"`
	Increment int    `json:"increment"`
}

type Challenge struct {
	ID          string       `json:"id"`
	Status      string       `json:"status,omitempty"`
	Variant     Variant      `json:"variant"`
	Rated       bool         `json:"rated"`
	Speed       string       `json:"speed,omitempty"`
	TimeControl *TimeControl `json:"timeControl,omitempty"`
	Challenger  *User        `json:"challenger,omitempty"`
	DestUser    *User        `json:"destUser,omitempty"`
}

type Opponent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
}

// GameInfo is the payload of gameStart and gameFinish on the account stream.
type GameInfo struct {
	GameID   string    `json:"gameId"`
	FullID   string    `json:"fullId,omitempty"`
	Color    Color     `json:"color"`
	FEN      string    `json:"fen"`
	HasMoved bool      `json:"hasMoved"`
	IsMyTurn bool      `json:"isMyTurn"`
	LastMove string    `json:"lastMove"`
	Variant  Variant   `json:"variant"`
	Speed    string    `json:"speed,omitempty"`
	Rated    bool      `json:"rated"`
	Opponent *Opponent `json:"opponent,omitempty"`
}

type GameState struct {
	Moves  string     `json:"moves"`
	WTime  int64      `json:"wtime"`
	BTime  int64      `json:"btime"`
	WInc   int64      `json:"winc"`
	BInc   int64      `json:"binc"`
	Status GameStatus `json:"status"`
	Winner Color      `json:"winner,omitempty"`
}

// MoveList splits the space separated move string into UCI tokens.
func (s GameState) MoveList() []string {
	return strings.Fields(s.Moves)
}

// Clock returns remaining and increment milliseconds for one side.
func (s GameState) Clock(c Color) (remainingMs, incrementMs int64) {
	if c == Black {
		return s.BTime, s.BInc
	}
	return s.WTime, s.WInc
}

type Player struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Title   string `json:"title,omitempty"`
	Rating  int    `json:"rating,omitempty"`
	AILevel int    `json:"aiLevel,omitempty"`
}

type GameFull struct {
	ID         string    `json:"id"`
	Rated      bool      `json:"rated"`
	Variant    Variant   `json:"variant"`
	InitialFEN string    `json:"initialFen"`
	White      Player    `json:"white"`
	Black      Player    `json:"black"`
	State      GameState `json:"state"`
}

// Event is one decoded stream line. Exactly one payload is set, chosen by Type:
// Game for gameStart/gameFinish, Challenge for the challenge events, State for
// gameState and gameFull (Full additionally set for gameFull).
type Event struct {
	Type      EventType
	Game      *GameInfo
	Challenge *Challenge
	State     *GameState
	Full      *GameFull
}

type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title,omitempty"`
}

// ChallengeRequest is the body of POST /api/challenge/{username}.
type ChallengeRequest struct {
	Rated          bool `json:"rated"`
	ClockLimit     int  `json:"clock.limit"`
	ClockIncrement int  `json:"clock.increment"`
}
