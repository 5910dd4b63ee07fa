package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/raniellyferreira/redis-lite/protocol"
)

// InfoField is one key:value line of INFO output
type InfoField struct {
	Key   string
	Value interface{}
}

// sectionOrder is the order sections are printed in; unknown names follow
// in registration order
var sectionOrder = map[string]int{
	"server":      0,
	"clients":     1,
	"replication": 2,
	"stats":       3,
	"keyspace":    4,
}

type infoSection struct {
	name string
	fn   func() []InfoField
}

type infoSections struct {
	mu       sync.RWMutex
	sections []infoSection
}

func newInfoSections() *infoSections {
	return &infoSections{}
}

// add registers a section, replacing one with the same name
func (s *infoSections) add(name string, fn func() []InfoField) {
	name = strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sections {
		if s.sections[i].name == name {
			s.sections[i].fn = fn
			return
		}
	}
	s.sections = append(s.sections, infoSection{name: name, fn: fn})
	sort.SliceStable(s.sections, func(i, j int) bool {
		return rank(s.sections[i].name) < rank(s.sections[j].name)
	})
}

func rank(name string) int {
	if r, ok := sectionOrder[name]; ok {
		return r
	}
	return len(sectionOrder)
}

// render returns the key:value lines of the selected section, or of every
// section for "", "all", "default" and "everything"
func (s *infoSections) render(selected string) string {
	selected = strings.ToLower(selected)
	all := selected == "" || selected == "all" || selected == "default" || selected == "everything"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var lines []string
	for _, section := range s.sections {
		if !all && section.name != selected {
			continue
		}
		for _, field := range section.fn() {
			lines = append(lines, fmt.Sprintf("%s:%v", field.Key, field.Value))
		}
	}
	return strings.Join(lines, "\n")
}

// handleInfo handles INFO [section]
func (d *Dispatcher) handleInfo(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) > 1 {
		return protocol.ErrorValue(wrongArity("info"))
	}
	return protocol.BulkString([]byte(d.info.render(cmd.Arg(0))))
}

func (d *Dispatcher) replicationInfo() []InfoField {
	return d.repl.InfoFields()
}

func (d *Dispatcher) statsInfo() []InfoField {
	info := d.store.Info()
	return []InfoField{
		{"total_commands_processed", d.commandsProcessed.Load()},
		{"expired_keys", info["expired_keys"]},
		{"keyspace_hits", info["keyspace_hits"]},
		{"keyspace_misses", info["keyspace_misses"]},
		{"used_memory", d.store.MemoryUsage()},
	}
}

func (d *Dispatcher) keyspaceInfo() []InfoField {
	keys := d.store.KeyCount()
	if keys == 0 {
		return nil
	}
	return []InfoField{
		{"db0", fmt.Sprintf("keys=%d,expires=%d,avg_ttl=0", keys, d.store.ExpiresCount())},
	}
}
