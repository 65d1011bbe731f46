// Package schedule triggers named jobs on cron specs in a configured
// timezone. It is deliberately small: jobs run inline on the cron goroutine
// with overlap-skip, an optional per-job timeout and a bounded history ring
// for the status endpoint.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tldrbot/internal/config"
	logx "tldrbot/pkg/logx"
)

type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "America/New_York"
	DefaultTimeout time.Duration
	HistorySize    int
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type JobInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Jobs     []JobInfo
	History  []HistoryItem
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID

	stateMu sync.Mutex
	running bool
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	runCtx    context.Context
	runCancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// AddDaily registers job to run every day at "HH:MM" in the service timezone.
// Registering an existing name replaces the old definition.
func (s *Service) AddDaily(name, atHHMM string, job func(ctx context.Context) error) error {
	h, m, err := config.ParseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), job)
}

// AddCron registers job under a cron spec.
func (s *Service) AddCron(name, spec string, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)
	d := &jobDef{name: name, spec: spec, timeout: s.cfg.DefaultTimeout, run: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return err
		}
	}
	s.log.Debug("job registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Apply swaps config; a timezone change restarts cron with re-registered jobs.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("job register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

// registerLocked wires d into the running cron. Call with s.mu held.
func (s *Service) registerLocked(d *jobDef) error {
	eid, err := s.c.AddFunc(d.spec, func() {
		d.stateMu.Lock()
		if d.running {
			d.stateMu.Unlock()
			s.log.Debug("job skipped (previous run still running)", logx.String("name", d.name))
			return
		}
		d.running = true
		d.stateMu.Unlock()
		defer func() {
			d.stateMu.Lock()
			d.running = false
			d.stateMu.Unlock()
		}()

		s.execute(d)
	})
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) execute(d *jobDef) {
	s.mu.Lock()
	base := s.runCtx
	s.mu.Unlock()
	if base == nil {
		return
	}

	ctx := base
	cancel := context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	started := time.Now()
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
				s.log.Error("panic in scheduled job",
					logx.String("name", d.name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		runErr = d.run(ctx)
	}()

	item := HistoryItem{Name: d.name, Started: started, Duration: time.Since(started)}
	if runErr != nil {
		item.Error = runErr.Error()
		s.log.Error("scheduled job failed", logx.String("name", d.name), logx.Err(runErr), logx.Duration("took", item.Duration))
	} else {
		s.log.Info("scheduled job finished", logx.String("name", d.name), logx.Duration("took", item.Duration))
	}
	s.appendHistory(item)
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 50
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := len(s.history) - size; n > 0 {
		s.history = append([]HistoryItem(nil), s.history[n:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) removeLocked(name string) {
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		d.entryID = 0
		if err := s.registerLocked(d); err != nil {
			s.log.Error("job register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
