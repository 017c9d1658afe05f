package game

import (
	"github.com/tmbingo/bingo-server/internal/v1/metrics"
	"github.com/tmbingo/bingo-server/internal/v1/protocol"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

// ClaimCell arbitrates a run submission against the grid.
//
// A claim is accepted when the game is active, the run's medal satisfies
// the room's requirement, and it beats the current holder: an empty cell,
// a strictly better medal, or an equal medal with a strictly lower time.
// Acceptance overwrites the cell, announces the claim, and re-runs bingo
// detection for lines the cell participates in.
func (r *Room) ClaimCell(account types.AccountIdType, uid string, timeMs uint64, medal types.Medal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotLocked(account)
	if slot == nil {
		return ErrNotInRoom
	}
	if r.state != StateInGame || r.game == nil {
		metrics.CellClaims.WithLabelValues("rejected").Inc()
		return ErrGameNotActive
	}
	if !medal.Satisfies(r.config.Medal) {
		metrics.CellClaims.WithLabelValues("rejected").Inc()
		return ErrMedalNotMet
	}

	cellID := -1
	for i, m := range r.maps {
		if m.UID == uid {
			cellID = i
			break
		}
	}
	if cellID == -1 {
		metrics.CellClaims.WithLabelValues("rejected").Inc()
		return ErrUnknownMap
	}

	current := r.game.Cells[cellID].Claim
	if current != nil {
		betterMedal := medal < current.Medal
		fasterSameMedal := medal == current.Medal && timeMs < current.Time
		if !betterMedal && !fasterSameMedal {
			metrics.CellClaims.WithLabelValues("rejected").Inc()
			return ErrClaimBeaten
		}
	}

	claim := types.MapClaim{
		Player: slot.network(),
		Time:   timeMs,
		Medal:  medal,
	}
	r.game.Cells[cellID].Claim = &claim
	metrics.CellClaims.WithLabelValues("accepted").Inc()

	r.broadcastLocked(protocol.NewCellClaimEvent(cellID, claim))
	for _, win := range r.newBingosLocked() {
		r.broadcastLocked(protocol.NewAnnounceBingoEvent(win.key.direction, win.key.index, win.team))
	}
	return nil
}

type bingoLine struct {
	key  lineKey
	team types.TeamIndex
}

// newBingosLocked scans every candidate line in fixed order (rows,
// columns, main diagonal, anti-diagonal) and returns the lines that
// became winning with the latest claim. Already-announced lines are
// skipped.
func (r *Room) newBingosLocked() []bingoLine {
	n := r.config.GridSize
	cellAt := func(row, col int) *types.MapClaim {
		return r.game.Cells[row*n+col].Claim
	}

	var wins []bingoLine
	check := func(key lineKey, cells func(i int) *types.MapClaim) {
		if _, announced := r.game.wins[key]; announced {
			return
		}
		team, ok := lineTeam(n, cells)
		if !ok {
			return
		}
		r.game.wins[key] = struct{}{}
		wins = append(wins, bingoLine{key: key, team: team})
	}

	for row := 0; row < n; row++ {
		check(lineKey{protocol.DirectionHorizontal, row}, func(i int) *types.MapClaim {
			return cellAt(row, i)
		})
	}
	for col := 0; col < n; col++ {
		check(lineKey{protocol.DirectionVertical, col}, func(i int) *types.MapClaim {
			return cellAt(i, col)
		})
	}
	check(lineKey{protocol.DirectionDiagonal, 0}, func(i int) *types.MapClaim {
		return cellAt(i, i)
	})
	check(lineKey{protocol.DirectionDiagonal, 1}, func(i int) *types.MapClaim {
		return cellAt(i, n-1-i)
	})
	return wins
}

// lineTeam reports the team holding the whole line, if any.
func lineTeam(n int, cells func(i int) *types.MapClaim) (types.TeamIndex, bool) {
	first := cells(0)
	if first == nil || first.Player.Team == nil {
		return 0, false
	}
	team := *first.Player.Team
	for i := 1; i < n; i++ {
		claim := cells(i)
		if claim == nil || claim.Player.Team == nil || *claim.Player.Team != team {
			return 0, false
		}
	}
	return team, true
}
