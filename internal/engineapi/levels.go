package engineapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Level is a named strength preset. Zero caps are left out of the search command.
type Level struct {
	Name           string
	SkillLevel     int
	DepthCap       int
	MoveTimeMillis int
	NodeCap        int
}

var levels = map[string]Level{
	"beginner": {Name: "beginner", SkillLevel: 1, DepthCap: 4, MoveTimeMillis: 200},
	"casual":   {Name: "casual", SkillLevel: 6, DepthCap: 8, MoveTimeMillis: 400},
	"club":     {Name: "club", SkillLevel: 12, DepthCap: 12, MoveTimeMillis: 800},
	"expert":   {Name: "expert", SkillLevel: 20, DepthCap: 18, MoveTimeMillis: 1500},
}

// LevelByName looks a preset up case-insensitively.
func LevelByName(name string) (Level, error) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Level{}, fmt.Errorf("unknown engine level %q (want one of %s)", name, strings.Join(LevelNames(), ", "))
	}
	return l, nil
}

func LevelNames() []string {
	out := make([]string, 0, len(levels))
	for n := range levels {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Apply copies the preset's limits onto cfg.
func (l Level) Apply(cfg *UCIConfig) {
	cfg.SkillLevel = l.SkillLevel
	cfg.Depth = l.DepthCap
	cfg.MoveTimeMillis = l.MoveTimeMillis
	cfg.NodeCap = l.NodeCap
}

func buildGoCommand(depth, moveTimeMillis, nodeCap int) (string, error) {
	args := []string{"go"}
	if depth > 0 {
		args = append(args, "depth", strconv.Itoa(depth))
	}
	if moveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(moveTimeMillis))
	}
	if nodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(nodeCap))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits configured")
	}
	return strings.Join(args, " ") + "\n", nil
}
