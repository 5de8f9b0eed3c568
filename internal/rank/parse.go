package rank

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	bareNumber   = regexp.MustCompile(`^#?(\d+)$`)
	numberedLine = regexp.MustCompile(`^#?(\d+)\s*[.):\]-]\s*(.*)$`)
	labelRef     = regexp.MustCompile(`(?i)^(?:video|item|keyword|candidate)\s*#?(\d+)\b`)
	bulletPrefix = regexp.MustCompile(`^[-*•>]+\s*`)
)

// positionLabel matches labels whose numeric value is a candidate position.
var positionLabel = regexp.MustCompile(`(?i)^(?:rank|position|pick|choice|video|item|keyword|candidate|id|video id)$`)

// ParseRanking reads a critic reply line by line and returns candidate
// indexes (0-based) in the order they appear. ids lists candidate
// identifiers in prompt order; numbers in the reply are 1-based positions.
//
// Accepted lines include "3", "#3", "Video 3", "Video 3: title",
// "1. Video 3", "2) <id>", "ID: <id>", "Rank: 3" and a bare identifier.
// A "Label: n" line only names a position when the label is positional,
// so echoed stat lines such as "Views: 120" are ignored. Unknown lines and
// out-of-range positions are ignored; repeats keep the first mention.
func ParseRanking(reply string, ids []string) []int {
	order, _ := ParseRankingNotes(reply, ids)
	return order
}

// ParseRankingNotes is ParseRanking that also returns the remark written
// after a candidate's first mention, keyed by candidate index:
// "Keyword 2: consistent engagement" notes "consistent engagement".
func ParseRankingNotes(reply string, ids []string) ([]int, map[int]string) {
	lookup := make(map[string]int, len(ids))
	for i, id := range ids {
		lookup[strings.ToLower(strings.TrimSpace(id))] = i
	}

	seen := make(map[int]bool)
	notes := make(map[int]string)
	var out []int
	for _, raw := range strings.Split(reply, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		idx, ok := resolveLine(line, lookup, len(ids))
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
		if note := lineNote(line, lookup); note != "" {
			notes[idx] = note
		}
	}
	return out, notes
}

// lineNote returns the text following the candidate reference on a
// resolved line, or "" when the line only names the candidate.
func lineNote(line string, lookup map[string]int) string {
	rest := line
	if m := numberedLine.FindStringSubmatch(rest); m != nil {
		rest = m[2]
	}
	if loc := labelRef.FindStringIndex(rest); loc != nil {
		rest = rest[loc[1]:]
	} else {
		cut := false
		for _, sep := range []string{":", " - ", " – ", " | "} {
			if _, after, ok := strings.Cut(rest, sep); ok {
				rest, cut = after, true
				break
			}
		}
		if !cut {
			return ""
		}
	}
	note := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(rest), ":-–|)."))
	if note == "" || bareNumber.MatchString(note) {
		return ""
	}
	if _, ok := lookupID(note, lookup); ok {
		return ""
	}
	return note
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = bulletPrefix.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}

func resolveLine(line string, lookup map[string]int, n int) (int, bool) {
	if idx, ok := lookupID(line, lookup); ok {
		return idx, true
	}
	if m := bareNumber.FindStringSubmatch(line); m != nil {
		return position(m[1], n)
	}
	if m := labelRef.FindStringSubmatch(line); m != nil {
		return position(m[1], n)
	}
	if m := numberedLine.FindStringSubmatch(line); m != nil {
		// "1. Video 3" and "1. <id>" name the candidate in the rest of the
		// line; otherwise the number itself is the candidate.
		if rest := strings.TrimSpace(m[2]); rest != "" {
			if idx, ok := resolveRest(rest, lookup, n); ok {
				return idx, true
			}
		}
		return position(m[1], n)
	}
	if label, value, ok := strings.Cut(line, ":"); ok {
		if idx, ok := lookupID(value, lookup); ok {
			return idx, true
		}
		if m := labelRef.FindStringSubmatch(strings.TrimSpace(label)); m != nil {
			return position(m[1], n)
		}
		if !positionLabel.MatchString(strings.TrimSpace(label)) {
			return 0, false
		}
		if m := bareNumber.FindStringSubmatch(strings.TrimSpace(value)); m != nil {
			return position(m[1], n)
		}
	}
	return 0, false
}

func resolveRest(rest string, lookup map[string]int, n int) (int, bool) {
	if idx, ok := lookupID(rest, lookup); ok {
		return idx, true
	}
	if m := labelRef.FindStringSubmatch(rest); m != nil {
		return position(m[1], n)
	}
	if label, value, ok := strings.Cut(rest, ":"); ok {
		if idx, ok := lookupID(value, lookup); ok {
			return idx, true
		}
		if idx, ok := lookupID(label, lookup); ok {
			return idx, true
		}
	}
	for _, sep := range []string{" - ", " – ", " | "} {
		if head, _, ok := strings.Cut(rest, sep); ok {
			if idx, ok := lookupID(head, lookup); ok {
				return idx, true
			}
		}
	}
	return 0, false
}

func lookupID(s string, lookup map[string]int) (int, bool) {
	key := strings.ToLower(strings.Trim(strings.TrimSpace(s), "\"'`()[]"))
	if key == "" {
		return 0, false
	}
	idx, ok := lookup[key]
	return idx, ok
}

func position(digits string, n int) (int, bool) {
	p, err := strconv.Atoi(digits)
	if err != nil || p < 1 || p > n {
		return 0, false
	}
	return p - 1, true
}
