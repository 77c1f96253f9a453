// Package stats implements the per-verb operation counters backing the STATISTICS command, mirroring
// original_source/redisql_lib/src/statistics.rs's {total, ok, err} triples.
package stats

import "sync/atomic"

// verb is one {total, ok, err} counter triple for a single command verb.
type verb struct {
	total atomic.Int64
	ok    atomic.Int64
	err   atomic.Int64
}

// Record increments total and either ok or err.
func (v *verb) Record(success bool) {
	v.total.Add(1)
	if success {
		v.ok.Add(1)
	} else {
		v.err.Add(1)
	}
}

func (v *verb) snapshot(prefix string, into map[string]int64) {
	into[prefix+"_total"] = v.total.Load()
	into[prefix+"_ok"] = v.ok.Load()
	into[prefix+"_err"] = v.err.Load()
}

// Counters holds one verb counter per command verb the module executes.
type Counters struct {
	CreateDB           verb
	Exec               verb
	Query              verb
	QueryInto          verb
	CreateStatement    verb
	ExecStatement      verb
	UpdateStatement    verb
	DeleteStatement    verb
	QueryStatement     verb
	QueryStatementInto verb
	Copy               verb
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

// Snapshot returns every counter's current value, keyed by "<verb>_{total,ok,err}", for the STATISTICS
// command's reply.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64, 33)

	c.CreateDB.snapshot("create_db", out)
	c.Exec.snapshot("exec", out)
	c.Query.snapshot("query", out)
	c.QueryInto.snapshot("query_into", out)
	c.CreateStatement.snapshot("create_statement", out)
	c.ExecStatement.snapshot("exec_statement", out)
	c.UpdateStatement.snapshot("update_statement", out)
	c.DeleteStatement.snapshot("delete_statement", out)
	c.QueryStatement.snapshot("query_statement", out)
	c.QueryStatementInto.snapshot("query_statement_into", out)
	c.Copy.snapshot("copy", out)

	return out
}
