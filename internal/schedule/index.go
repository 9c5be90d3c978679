// Package schedule turns an uploaded timetable into a per-group lookup.
package schedule

import (
	"fmt"
	"sort"
	"strings"
)

// Index maps group names to formatted schedule text. It is immutable after
// construction and safe for concurrent reads.
type Index struct {
	groups map[string]group
}

type group struct {
	name    string
	entries []string
}

// NewIndex builds an index from group name -> schedule lines. Names are
// matched case-insensitively with collapsed whitespace and unified dashes.
func NewIndex(entries map[string][]string) *Index {
	idx := &Index{groups: make(map[string]group, len(entries))}
	for name, lines := range entries {
		idx.add(name, lines...)
	}
	return idx
}

func (idx *Index) add(name string, lines ...string) {
	key := NormalizeGroup(name)
	if key == "" {
		return
	}
	g, ok := idx.groups[key]
	if !ok {
		g = group{name: strings.TrimSpace(name)}
	}
	for _, ln := range lines {
		if ln = strings.TrimSpace(ln); ln != "" {
			g.entries = append(g.entries, ln)
		}
	}
	idx.groups[key] = g
}

// Lookup never fails: unknown or empty groups get a readable message.
func (idx *Index) Lookup(groupName string) string {
	key := NormalizeGroup(groupName)
	if key == "" {
		return NoGroupMessage
	}
	g, ok := idx.groups[key]
	if !ok {
		return NotFoundMessage(groupName)
	}
	if len(g.entries) == 0 {
		return fmt.Sprintf(emptyGroupFormat, g.name)
	}
	return strings.Join(g.entries, "\n")
}

// Has reports whether the group appears in the document.
func (idx *Index) Has(groupName string) bool {
	_, ok := idx.groups[NormalizeGroup(groupName)]
	return ok
}

// Groups returns display names in sorted order.
func (idx *Index) Groups() []string {
	out := make([]string, 0, len(idx.groups))
	for _, g := range idx.groups {
		out = append(out, g.name)
	}
	sort.Strings(out)
	return out
}

func (idx *Index) Len() int { return len(idx.groups) }

const (
	NoGroupMessage   = "Группа не выбрана. Используйте /start, чтобы выбрать группу."
	notFoundFormat   = "Расписание для группы %s не найдено."
	emptyGroupFormat = "Для группы %s занятий нет."
)

func NotFoundMessage(groupName string) string {
	return fmt.Sprintf(notFoundFormat, strings.TrimSpace(groupName))
}

var dashes = strings.NewReplacer("–", "-", "—", "-", "−", "-")

// NormalizeGroup is the matching key for group names.
func NormalizeGroup(s string) string {
	s = dashes.Replace(s)
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
