package tui

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-guard/abuse"
	"github.com/agentuity/go-guard/ratelimit"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
)

// Table renders rows under headers with a plain border.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

func formatCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatInt(counts[k], 10))
	}
	return strings.Join(parts, " ")
}

// SuspectTable renders the abuse leaderboard.
func SuspectTable(suspects []abuse.Suspect) string {
	rows := make([][]string, 0, len(suspects))
	for i, s := range suspects {
		lastSeen := "-"
		if !s.LastSeen.IsZero() {
			lastSeen = s.LastSeen.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.ID,
			strconv.FormatInt(s.Score, 10),
			lastSeen,
			formatCounts(s.Counts),
		})
	}
	return Table([]string{"#", "ID", "SCORE", "LAST SEEN", "COUNTS"}, rows)
}

// ResultTable renders one rate limit decision.
func ResultTable(req ratelimit.Request, res ratelimit.Result) string {
	return Table([]string{"BUCKET", "KEY", "ALLOWED", "COUNT", "REMAINING", "RESET"}, [][]string{{
		req.Bucket,
		req.Key,
		strconv.FormatBool(res.Allowed),
		strconv.FormatInt(res.Count, 10),
		strconv.FormatInt(res.Remaining, 10),
		strconv.FormatInt(res.ResetSeconds(), 10) + "s",
	}})
}
