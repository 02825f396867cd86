package game

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/saludapp/salud/internal/room"
)

// exportResults appends the final scoreboard for a finished room to the
// configured file. For the vote-for-a-person game the cumulative vote
// counts also yield the end-of-game superlatives.
func (e *Engine) exportResults(roomID, filename string) error {
	rm, err := e.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	players := e.store.Players(roomID)

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	sorted := make([]room.Player, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Salud Game Results - Room %s (%s)\n", rm.JoinCode, rm.GameKind))
	sb.WriteString(fmt.Sprintf("Ended: %s after %d round(s)\n", time.Now().Format("2006-01-02 15:04:05"), len(rm.RoundOrder)))
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	for _, p := range sorted {
		sb.WriteString(fmt.Sprintf("- %s: %d points, %d drink(s), streak %d\n", p.DisplayName, p.Score, p.PenaltyCount, p.Streak))
	}

	if rm.GameKind == room.KindMostLikely && len(sorted) > 0 {
		most := sorted[0]
		fewest := sorted[len(sorted)-1]
		sb.WriteString(fmt.Sprintf("Most votes: %s (%d)\n", most.DisplayName, most.Score))
		sb.WriteString(fmt.Sprintf("Fewest votes: %s (%d)\n", fewest.DisplayName, fewest.Score))
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
