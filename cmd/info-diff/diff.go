package main

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DatabaseStats represents the statistics for a single database
type DatabaseStats struct {
	Keys    int64
	Expires int64
	AvgTTL  int64 // in milliseconds, 0 if not present
}

// KeyspaceInfo represents the complete keyspace information
type KeyspaceInfo map[int]DatabaseStats

// Matches database lines like: db0:keys=2,expires=0,avg_ttl=0
var dbRegex = regexp.MustCompile(`^db(\d+):keys=(\d+),expires=(\d+)(?:,avg_ttl=(\d+))?`)

// parseInfoFields returns the key:value pairs of an INFO report. Section
// headers and blank lines are skipped.
func parseInfoFields(info string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			fields[key] = value
		}
	}
	return fields
}

// parseKeyspaceInfo extracts keyspace information from INFO response
func parseKeyspaceInfo(info string) KeyspaceInfo {
	keyspace := make(KeyspaceInfo)

	for _, line := range strings.Split(info, "\n") {
		matches := dbRegex.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}
		dbNum, _ := strconv.Atoi(matches[1])
		keys, _ := strconv.ParseInt(matches[2], 10, 64)
		expires, _ := strconv.ParseInt(matches[3], 10, 64)

		var avgTTL int64
		if matches[4] != "" {
			avgTTL, _ = strconv.ParseInt(matches[4], 10, 64)
		}

		keyspace[dbNum] = DatabaseStats{
			Keys:    keys,
			Expires: expires,
			AvgTTL:  avgTTL,
		}
	}

	return keyspace
}

type report struct {
	lines       []string
	differences int
}

func (r *report) add(critical bool, format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
	if critical {
		r.differences++
	}
}

// compare checks that sut follows ref and holds the same keyspace
func compare(refInfo, sutInfo string, dbFilter map[int]bool) report {
	var r report

	ref := parseInfoFields(refInfo)
	sut := parseInfoFields(sutInfo)

	r.add(false, "Replication:")
	if ref["role"] != "master" {
		r.add(true, "  leader role is %q, want master", ref["role"])
	}
	if sut["role"] != "slave" {
		r.add(true, "  follower role is %q, want slave", sut["role"])
	}
	if sut["master_link_status"] != "up" {
		r.add(true, "  follower link is %q, want up", sut["master_link_status"])
	}
	if ref["master_replid"] != sut["master_replid"] {
		r.add(true, "  replication ids differ: REF=%s, SUT=%s", ref["master_replid"], sut["master_replid"])
	} else {
		r.add(false, "  Match: master_replid=%s", ref["master_replid"])
	}

	compareKeyspace(&r, parseKeyspaceInfo(refInfo), parseKeyspaceInfo(sutInfo), dbFilter)
	return r
}

func compareKeyspace(r *report, ref, sut KeyspaceInfo, dbFilter map[int]bool) {
	allDBs := make(map[int]bool)
	for db := range ref {
		if dbFilter == nil || dbFilter[db] {
			allDBs[db] = true
		}
	}
	for db := range sut {
		if dbFilter == nil || dbFilter[db] {
			allDBs[db] = true
		}
	}

	var dbNums []int
	for db := range allDBs {
		dbNums = append(dbNums, db)
	}
	sort.Ints(dbNums)

	r.add(false, "Keyspace:")
	for _, dbNum := range dbNums {
		refStats, refExists := ref[dbNum]
		sutStats, sutExists := sut[dbNum]

		switch {
		case !refExists:
			r.add(true, "  db%d: missing on leader, follower has keys=%d,expires=%d", dbNum, sutStats.Keys, sutStats.Expires)
		case !sutExists:
			r.add(true, "  db%d: missing on follower, leader has keys=%d,expires=%d", dbNum, refStats.Keys, refStats.Expires)
		default:
			if refStats.Keys != sutStats.Keys {
				r.add(true, "  db%d: keys differ: REF=%d, SUT=%d", dbNum, refStats.Keys, sutStats.Keys)
			}
			if refStats.Expires != sutStats.Expires {
				r.add(true, "  db%d: expires differ: REF=%d, SUT=%d", dbNum, refStats.Expires, sutStats.Expires)
			}
			// avg_ttl drifts between samples and is not a difference
			if refStats.Keys == sutStats.Keys && refStats.Expires == sutStats.Expires {
				r.add(false, "  db%d: Match: keys=%d,expires=%d", dbNum, refStats.Keys, refStats.Expires)
			}
		}
	}
}
