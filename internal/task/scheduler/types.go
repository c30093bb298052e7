package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"promptnotify/internal/eventbus"
	"promptnotify/internal/task/engine"
	logx "promptnotify/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA zone the cron specs are evaluated in; empty means UTC
}

// Job receives the instant the schedule fired (in the scheduler location).
type Job func(ctx context.Context, firedAt time.Time) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	state   *engine.RunState
	entryID cron.EntryID
}

// Entry is a diagnostics view of a registered schedule.
type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	engine *engine.Service
	parser cron.Parser

	c    *cron.Cron
	loc  *time.Location
	defs []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}
