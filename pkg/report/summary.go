package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"
)

// StageStats counts the outcome of one pipeline stage
type StageStats struct {
	Name      string
	Succeeded int
	Skipped   int
	Failed    int
	// ErrorTypes tallies failures by utils.CategorizeError category
	ErrorTypes map[string]int
	// SkipReasons tallies skips that were not plain cache hits, e.g. System_ContextCanceled
	SkipReasons map[string]int
}

// NewStageStats returns zeroed stats for a named stage
func NewStageStats(name string) StageStats {
	return StageStats{Name: name, ErrorTypes: map[string]int{}}
}

// Total is every item the stage looked at
func (s StageStats) Total() int {
	return s.Succeeded + s.Skipped + s.Failed
}

// Fail counts one failure under its category
func (s *StageStats) Fail(category string) {
	s.Failed++
	if s.ErrorTypes == nil {
		s.ErrorTypes = map[string]int{}
	}
	s.ErrorTypes[category]++
}

// SkipAs counts one skip under a reason
func (s *StageStats) SkipAs(reason string) {
	s.Skipped++
	if s.SkipReasons == nil {
		s.SkipReasons = map[string]int{}
	}
	s.SkipReasons[reason]++
}

// Merge adds other's counts into s
func (s *StageStats) Merge(other StageStats) {
	s.Succeeded += other.Succeeded
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	for k, v := range other.ErrorTypes {
		if s.ErrorTypes == nil {
			s.ErrorTypes = map[string]int{}
		}
		s.ErrorTypes[k] += v
	}
	for k, v := range other.SkipReasons {
		if s.SkipReasons == nil {
			s.SkipReasons = map[string]int{}
		}
		s.SkipReasons[k] += v
	}
}

// TopErrors lists categories by count, highest first
func (s StageStats) TopErrors() []string {
	cats := make([]string, 0, len(s.ErrorTypes))
	for k := range s.ErrorTypes {
		cats = append(cats, k)
	}
	sort.Slice(cats, func(i, j int) bool {
		ci, cj := s.ErrorTypes[cats[i]], s.ErrorTypes[cats[j]]
		if ci != cj {
			return ci > cj
		}
		return cats[i] < cats[j]
	})
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = fmt.Sprintf("%s=%d", c, s.ErrorTypes[c])
	}
	return out
}

// Counter is a StageStats safe for concurrent workers
type Counter struct {
	mu    sync.Mutex
	stats StageStats
}

// NewCounter starts a counter for the named stage
func NewCounter(name string) *Counter {
	return &Counter{stats: NewStageStats(name)}
}

func (c *Counter) Success() {
	c.mu.Lock()
	c.stats.Succeeded++
	c.mu.Unlock()
}

func (c *Counter) Skip() {
	c.mu.Lock()
	c.stats.Skipped++
	c.mu.Unlock()
}

// SkipAs counts a skip with a reason, such as work abandoned on cancellation
func (c *Counter) SkipAs(reason string) {
	c.mu.Lock()
	c.stats.SkipAs(reason)
	c.mu.Unlock()
}

func (c *Counter) Fail(category string) {
	c.mu.Lock()
	c.stats.Fail(category)
	c.mu.Unlock()
}

// Snapshot copies the current counts
func (c *Counter) Snapshot() StageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.ErrorTypes = make(map[string]int, len(c.stats.ErrorTypes))
	for k, v := range c.stats.ErrorTypes {
		out.ErrorTypes[k] = v
	}
	if c.stats.SkipReasons != nil {
		out.SkipReasons = make(map[string]int, len(c.stats.SkipReasons))
		for k, v := range c.stats.SkipReasons {
			out.SkipReasons[k] = v
		}
	}
	return out
}

// Summary collects stage stats for the end-of-run table
type Summary struct {
	Stages   []StageStats
	Duration time.Duration
}

// Add appends a stage row
func (s *Summary) Add(stats ...StageStats) {
	s.Stages = append(s.Stages, stats...)
}

// Failed is the failure count across all stages
func (s *Summary) Failed() int {
	n := 0
	for _, st := range s.Stages {
		n += st.Failed
	}
	return n
}

// Render draws the summary as a rounded table
func (s *Summary) Render() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Stage", "OK", "Skipped", "Failed", "Top errors"})
	for _, st := range s.Stages {
		top := st.TopErrors()
		if len(top) > 3 {
			top = top[:3]
		}
		for _, reason := range sortedKeys(st.SkipReasons) {
			top = append(top, fmt.Sprintf("skipped %s=%d", reason, st.SkipReasons[reason]))
		}
		tw.AppendRow(table.Row{st.Name, strconv.Itoa(st.Succeeded), strconv.Itoa(st.Skipped), strconv.Itoa(st.Failed), strings.Join(top, ", ")})
	}
	if s.Duration > 0 {
		tw.AppendFooter(table.Row{"Duration", s.Duration.Round(time.Millisecond).String(), "", "", ""})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// Log writes one structured line per stage, then the table at info level
func (s *Summary) Log(log *logrus.Entry) {
	for _, st := range s.Stages {
		log.WithFields(logrus.Fields{
			"stage":     st.Name,
			"succeeded": st.Succeeded,
			"skipped":   st.Skipped,
			"failed":    st.Failed,
		}).Debug("Stage summary")
		if n := st.SkipReasons["System_ContextCanceled"]; n > 0 {
			log.WithField("stage", st.Name).Warnf("%d items left unprocessed after cancellation", n)
		}
	}
	log.Infof("Run summary:\n%s", s.Render())
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
