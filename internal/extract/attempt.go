package extract

import (
	"errors"
	"log/slog"
	"time"
)

type Outcome int

const (
	Success Outcome = iota
	// SoftFail is worth retrying.
	SoftFail
	// HardFail is not: the instance or the content is done for.
	HardFail
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SoftFail:
		return "soft-fail"
	default:
		return "hard-fail"
	}
}

// Attempt records a single network call or subprocess run against a backend.
// Attempts only feed retry decisions and logs; nothing keeps them.
type Attempt struct {
	Backend  string
	Instance string
	Op       string
	Ref      string
	Try      int
	Started  time.Time
	Latency  time.Duration
	Outcome  Outcome
	Err      error
}

type AttemptObserver func(Attempt)

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case retryable(err):
		return SoftFail
	default:
		return HardFail
	}
}

type attemptLog struct {
	backend  string
	log      *slog.Logger
	observer AttemptObserver
}

func (a attemptLog) record(instance, op, ref string, try int, started time.Time, err error) {
	at := Attempt{
		Backend:  a.backend,
		Instance: instance,
		Op:       op,
		Ref:      ref,
		Try:      try,
		Started:  started,
		Latency:  time.Since(started),
		Outcome:  outcomeOf(err),
		Err:      err,
	}
	if a.observer != nil {
		a.observer(at)
	}
	if a.log == nil {
		return
	}
	attrs := []any{"backend", at.Backend, "op", at.Op, "ref", at.Ref, "try", at.Try,
		"latency", at.Latency, "outcome", at.Outcome.String()}
	if at.Instance != "" {
		attrs = append(attrs, "instance", at.Instance)
	}
	if err != nil {
		var be *BackendError
		if errors.As(err, &be) && be.Status != 0 {
			attrs = append(attrs, "status", be.Status)
		}
		attrs = append(attrs, "err", err)
	}
	a.log.Debug("extraction attempt", attrs...)
}
