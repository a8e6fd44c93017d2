package scoreboard

import "sync"

// Keeper tracks the score being edited together with the last confirmed
// one, and the orientation of the remote relative to the display.
//
// Reversed means the operator faces the display from the other side, so
// the display shows the sides swapped.
type Keeper struct {
	mu          sync.Mutex
	score       Score
	confirmed   Score
	reversed    bool
	wasReversed bool
}

func NewKeeper() *Keeper {
	return &Keeper{}
}

func (k *Keeper) Score() Score {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.score
}

// Confirmed returns the score of the last Confirm.
func (k *Keeper) Confirmed() Score {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.confirmed
}

// Update applies fn to the current score and returns the result.
func (k *Keeper) Update(fn func(Score) Score) Score {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.score = fn(k.score)
	return k.score
}

// Pending reports how the edited score differs from the confirmed one.
func (k *Keeper) Pending() Change {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.score.DetectChange(k.confirmed)
}

func (k *Keeper) Confirm() Score {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.confirmed = k.score
	k.wasReversed = k.reversed
	return k.score
}

// Revert restores the confirmed score and orientation.
func (k *Keeper) Revert() Score {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.score = k.confirmed
	k.reversed = k.wasReversed
	return k.score
}

func (k *Keeper) Reversed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reversed
}

// ToggleOrientation flips the orientation and swaps the score so each
// counter stays with its team.
func (k *Keeper) ToggleOrientation() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.reversed = !k.reversed
	k.score = k.score.Swap()
	return k.reversed
}
