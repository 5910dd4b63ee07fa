package command

import (
	"strings"
	"testing"
)

func infoLines(t *testing.T, d *Dispatcher, args ...string) map[string]string {
	t.Helper()
	result := run(t, d, "INFO", args...)
	if result.Reply.IsError() {
		t.Fatalf("INFO error: %v", result.Reply)
	}

	lines := make(map[string]string)
	for _, line := range strings.Split(string(result.Reply.Data), "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			t.Fatalf("malformed INFO line %q", line)
		}
		lines[key] = value
	}
	return lines
}

func TestInfoReplication(t *testing.T) {
	tests := []struct {
		name   string
		leader bool
		role   string
	}{
		{"leader", true, "master"},
		{"follower", false, "slave"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d *Dispatcher
			if tt.leader {
				d, _ = newLeader(t)
			} else {
				d, _ = newFollower(t)
			}

			for _, section := range []string{"", "replication", "REPLICATION", "all"} {
				lines := infoLines(t, d, section)
				if lines["role"] != tt.role {
					t.Errorf("INFO %q role = %q, want %q", section, lines["role"], tt.role)
				}
				if lines["master_replid"] != testReplID {
					t.Errorf("INFO %q master_replid = %q", section, lines["master_replid"])
				}
				if lines["master_repl_offset"] != "0" {
					t.Errorf("INFO %q master_repl_offset = %q, want 0", section, lines["master_repl_offset"])
				}
			}
		})
	}
}

func TestInfoKeyspace(t *testing.T) {
	d, _ := newLeader(t)

	if lines := infoLines(t, d, "keyspace"); len(lines) != 0 {
		t.Errorf("keyspace on empty store = %v, want no lines", lines)
	}

	run(t, d, "SET", "a", "1")
	run(t, d, "SET", "b", "2", "PX", "100000")

	lines := infoLines(t, d, "keyspace")
	if got := lines["db0"]; got != "keys=2,expires=1,avg_ttl=0" {
		t.Errorf("db0 = %q", got)
	}
	if _, ok := lines["role"]; ok {
		t.Error("keyspace section should not include replication fields")
	}
}

func TestInfoSections(t *testing.T) {
	d, _ := newLeader(t, WithInfoSection("server", func() []InfoField {
		return []InfoField{{"redis_version", "1.0.0"}}
	}))
	d.AddInfoSection("clients", func() []InfoField {
		return []InfoField{{"connected_clients", 3}}
	})

	result := run(t, d, "INFO")
	text := string(result.Reply.Data)

	order := []string{"redis_version:", "connected_clients:", "role:", "total_commands_processed:"}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		if idx < 0 {
			t.Fatalf("INFO missing %q:\n%s", key, text)
		}
		if idx < last {
			t.Errorf("%q out of order in:\n%s", key, text)
		}
		last = idx
	}

	if lines := infoLines(t, d, "clients"); lines["connected_clients"] != "3" || len(lines) != 1 {
		t.Errorf("INFO clients = %v", lines)
	}
	if lines := infoLines(t, d, "nosuchsection"); len(lines) != 0 {
		t.Errorf("INFO nosuchsection = %v, want empty", lines)
	}

	d.AddInfoSection("clients", func() []InfoField {
		return []InfoField{{"connected_clients", 5}}
	})
	if lines := infoLines(t, d, "clients"); lines["connected_clients"] != "5" {
		t.Errorf("replaced section connected_clients = %q, want 5", lines["connected_clients"])
	}
}

func TestInfoArity(t *testing.T) {
	d, _ := newLeader(t)
	result := run(t, d, "INFO", "a", "b")
	if result.Reply.Error() != "ERR wrong number of arguments for 'info' command" {
		t.Errorf("reply = %v", result.Reply)
	}
}
