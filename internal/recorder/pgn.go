package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chessduel/internal/domain"
)

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func playerNames(rec *domain.GameRecord) (white, black string) {
	switch strings.ToUpper(rec.Mode) {
	case "ENGINE":
		if rec.Role == "black" {
			return "Engine", "Player"
		}
		return "Player", "Engine"
	case "REMOTE":
		if rec.Role == "joiner" {
			return "Peer", "Player"
		}
		return "Player", "Peer"
	default:
		return "White", "Black"
	}
}

func buildPGN(rec *domain.GameRecord) string {
	if rec == nil {
		return ""
	}
	result := mapResultToPGN(rec.Result)
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	white, black := playerNames(rec)

	var b strings.Builder
	b.WriteString("[Event \"Chess Duel\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Mode))))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", white))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", black))
	if rec.ECO != "" {
		b.WriteString(fmt.Sprintf("[ECO \"%s\"]\n", sanitizePGN(rec.ECO)))
		b.WriteString(fmt.Sprintf("[Opening \"%s\"]\n", sanitizePGN(rec.Opening)))
	}
	if rec.StartFEN != "" {
		b.WriteString("[SetUp \"1\"]\n")
		b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", sanitizePGN(rec.StartFEN)))
	}
	if m := strings.TrimSpace(rec.Method); m != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	moves := rec.MovesSAN
	if len(moves) == 0 {
		moves = rec.MovesUCI
	}
	// black-to-move starts are numbered "1... e5"
	offset := 0
	if fields := strings.Fields(rec.StartFEN); len(fields) > 1 && fields[1] == "b" {
		offset = 1
		if len(moves) > 0 {
			b.WriteString("1... ")
		}
	}
	for i, mv := range moves {
		ply := i + offset
		if ply%2 == 0 {
			b.WriteString(fmt.Sprintf("%d. ", ply/2+1))
		}
		b.WriteString(strings.TrimSpace(mv))
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
