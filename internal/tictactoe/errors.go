package tictactoe

// Rejections surfaced to the acting user. None of them change persisted state.
var (
	ErrGameNotFound    = errf("game not found")
	ErrNotYourGame     = errf("not your game")
	ErrNotAMember      = errf("not a member of this battle")
	ErrNotYourTurn     = errf("not your turn")
	ErrSelfPlay        = errf("cannot battle yourself")
	ErrAlreadyStarted  = errf("battle already started")
	ErrCellOccupied    = errf("cell already used")
	ErrInvalidPosition = errf("invalid position")
	ErrModeMismatch    = errf("action does not match game mode")
	ErrInvalidArgs     = errf("invalid arguments")
	// ErrConflict is returned when optimistic retries are exhausted.
	ErrConflict = errf("concurrent update, retry")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error        { return staticErr(s) }
