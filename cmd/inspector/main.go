// Command inspector summarises audit JSONL files written by the server.
//
//	inspector logs/audit-2026-03-02.jsonl [more files...]
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/GoPolymarket/polysignal/internal/model"
)

type summary struct {
	Entries     int
	Malformed   int
	ByEvent     map[string]int
	ByDecision  map[model.GovernanceDecision]int
	BlockedBy   map[string]int
	KillEvents  []model.AuditEntry
	SpendCents  int64
	MeanLatency float64
}

func newSummary() *summary {
	return &summary{
		ByEvent:    make(map[string]int),
		ByDecision: make(map[model.GovernanceDecision]int),
		BlockedBy:  make(map[string]int),
	}
}

// scan reads one JSONL stream; malformed lines are counted, not fatal.
func (s *summary) scan(r io.Reader) error {
	var latencyTotal float64
	var evaluated int
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			s.Malformed++
			continue
		}
		s.Entries++
		s.ByEvent[e.Event]++
		switch e.Event {
		case model.EventGovernanceEvaluation:
			evaluated++
			latencyTotal += e.LatencyMs
			s.ByDecision[e.Decision]++
			for _, id := range e.BlockingRules {
				s.BlockedBy[id]++
			}
			if e.Decision == model.DecisionApproved && e.OrderValueCents != nil {
				s.SpendCents += *e.OrderValueCents
			}
		case model.EventKillSwitchActivated, model.EventKillSwitchReset:
			s.KillEvents = append(s.KillEvents, e)
		}
	}
	if evaluated > 0 {
		// running mean across files
		prev := s.evaluations() - evaluated
		s.MeanLatency = (s.MeanLatency*float64(prev) + latencyTotal) / float64(prev+evaluated)
	}
	return sc.Err()
}

func (s *summary) evaluations() int {
	n := 0
	for _, c := range s.ByDecision {
		n += c
	}
	return n
}

func (s *summary) print(w io.Writer) {
	fmt.Fprintf(w, "entries: %d (malformed: %d)\n", s.Entries, s.Malformed)

	fmt.Fprintln(w, "\n--- Events ---")
	for _, k := range sortedKeys(s.ByEvent) {
		fmt.Fprintf(w, "%-24s %d\n", k, s.ByEvent[k])
	}

	fmt.Fprintln(w, "\n--- Decisions ---")
	for _, d := range []model.GovernanceDecision{model.DecisionApproved, model.DecisionBlocked, model.DecisionKillSwitched, model.DecisionRequiresApproval} {
		if n := s.ByDecision[d]; n > 0 {
			fmt.Fprintf(w, "%-24s %d\n", d, n)
		}
	}
	fmt.Fprintf(w, "approved order value:    $%.2f\n", float64(s.SpendCents)/100)
	fmt.Fprintf(w, "mean latency:            %.3fms\n", s.MeanLatency)

	if len(s.BlockedBy) > 0 {
		fmt.Fprintln(w, "\n--- Blocking rules ---")
		keys := sortedKeys(s.BlockedBy)
		sort.SliceStable(keys, func(i, j int) bool { return s.BlockedBy[keys[i]] > s.BlockedBy[keys[j]] })
		for _, k := range keys {
			fmt.Fprintf(w, "%-24s %d\n", k, s.BlockedBy[k])
		}
	}

	if len(s.KillEvents) > 0 {
		fmt.Fprintln(w, "\n--- Kill switch ---")
		for _, e := range s.KillEvents {
			who := e.Reason
			if e.Event == model.EventKillSwitchReset {
				who = "by " + e.AuthorizedBy
			}
			fmt.Fprintf(w, "%s %-22s %s\n", e.Timestamp.Format("2006-01-02 15:04:05Z07:00"), e.Event, who)
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: inspector <audit.jsonl>...")
		os.Exit(2)
	}

	s := newSummary()
	for _, path := range os.Args[1:] {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
			os.Exit(1)
		}
		err = s.scan(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
	}
	s.print(os.Stdout)
}
