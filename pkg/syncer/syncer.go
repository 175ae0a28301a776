// Package syncer implements the pull/diff sync session: enumerate the
// streams a central server knows, diff its dates against the local
// cache, and download the missing day files one date at a time.
//
// The session operates in discrete request/response round trips, never a
// continuous subscription. Each date transfer is independently retryable
// and idempotent: re-downloading an identical day file and re-saving it
// is a safe no-op.
package syncer

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/pkg/data"
	"mdstore/pkg/journal"
	"mdstore/pkg/storage"
	"mdstore/pkg/storage/remote"
)

// Remote is the server-side surface a session pulls from. *remote.Client
// satisfies it.
type Remote interface {
	LookupSecurities(ctx context.Context, pattern string) ([]remote.SecurityInfo, error)
	GetAvailableDataTypes(ctx context.Context, id data.SecurityID) ([]data.TypeArg, error)
	GetDates(ctx context.Context, key data.StreamKey) ([]time.Time, error)
	LoadStream(ctx context.Context, key data.StreamKey, date time.Time) ([]byte, bool, error)
}

// DateStatus classifies one (stream, date) outcome within a session.
type DateStatus int

const (
	StatusDownloaded DateStatus = iota
	StatusUpToDate
	StatusFailed
)

// DateResult is the outcome for one stream date.
type DateResult struct {
	Key    data.StreamKey
	Date   time.Time
	Status DateStatus
	Bytes  int
	Err    error
}

// Summary aggregates a whole session. Failures are isolated per date: a
// bad date never aborts the remaining dates of the session.
type Summary struct {
	Streams    int
	Results    []DateResult
	Partial    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Downloaded counts transferred dates.
func (s *Summary) Downloaded() int { return s.count(StatusDownloaded) }

// UpToDate counts dates already present locally.
func (s *Summary) UpToDate() int { return s.count(StatusUpToDate) }

// Failed returns the per-date failures for retry.
func (s *Summary) Failed() []DateResult {
	var out []DateResult
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

func (s *Summary) count(status DateStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Progress reports best-effort session advancement.
type Progress func(stream data.StreamKey, datesDone, datesTotal int)

// Session drives one pull sync from a remote server into a local drive.
type Session struct {
	remote   Remote
	local    storage.Drive
	pattern  string
	types    []data.TypeArg // empty means everything the server offers
	progress Progress
	journal  *journal.Writer
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithPattern filters the instruments to sync.
func WithPattern(pattern string) SessionOption {
	return func(s *Session) { s.pattern = pattern }
}

// WithDataTypes restricts the session to specific data types.
func WithDataTypes(types []data.TypeArg) SessionOption {
	return func(s *Session) { s.types = types }
}

// WithProgress installs a progress callback.
func WithProgress(p Progress) SessionOption {
	return func(s *Session) { s.progress = p }
}

// WithJournal persists a session record to the given writer on finish.
func WithJournal(w *journal.Writer) SessionOption {
	return func(s *Session) { s.journal = w }
}

// NewSession builds a session pulling from remote into local.
func NewSession(rem Remote, local storage.Drive, opts ...SessionOption) *Session {
	s := &Session{remote: rem, local: local}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the session. Cancellation stops at the next date boundary
// and returns the partial summary with a nil error; only failures to
// enumerate the remote side abort the whole run.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now()}
	defer func() {
		summary.FinishedAt = time.Now()
		s.writeJournal(summary)
	}()

	infos, err := s.remote.LookupSecurities(ctx, s.pattern)
	if err != nil {
		return summary, err
	}
	for _, info := range infos {
		id, err := data.ParseSecurityID(info.ID)
		if err != nil {
			logx.Errorf("sync: skip malformed security id %q: %v", info.ID, err)
			continue
		}
		types := s.types
		if len(types) == 0 {
			types, err = s.remote.GetAvailableDataTypes(ctx, id)
			if err != nil {
				return summary, err
			}
		}
		for _, ta := range types {
			if ctx.Err() != nil {
				summary.Partial = true
				return summary, nil
			}
			key := data.StreamKey{Security: id, Type: ta.Type, Arg: ta.Arg}
			summary.Streams++
			if done := s.syncStream(ctx, key, summary); !done {
				summary.Partial = true
				return summary, nil
			}
		}
	}
	return summary, nil
}

// syncStream diffs and transfers one stream. Returns false when the
// context ended mid-stream.
func (s *Session) syncStream(ctx context.Context, key data.StreamKey, summary *Summary) bool {
	remoteDates, err := s.remote.GetDates(ctx, key)
	if err != nil {
		summary.Results = append(summary.Results, DateResult{Key: key, Status: StatusFailed, Err: err})
		logx.Errorf("sync: %s: list remote dates: %v", key, err)
		return true
	}
	localDates, err := s.local.GetDates(ctx, key)
	if err != nil {
		summary.Results = append(summary.Results, DateResult{Key: key, Status: StatusFailed, Err: err})
		logx.Errorf("sync: %s: list local dates: %v", key, err)
		return true
	}
	have := make(map[time.Time]struct{}, len(localDates))
	for _, d := range localDates {
		have[d] = struct{}{}
	}

	for i, date := range remoteDates {
		if ctx.Err() != nil {
			return false
		}
		if _, ok := have[date]; ok {
			// Local content for a synced date is authoritative; no re-fetch.
			summary.Results = append(summary.Results, DateResult{Key: key, Date: date, Status: StatusUpToDate})
		} else {
			summary.Results = append(summary.Results, s.transferDate(ctx, key, date))
		}
		if s.progress != nil {
			s.progress(key, i+1, len(remoteDates))
		}
	}
	return true
}

// transferDate downloads and stores one day file. Failures stay local to
// the date.
func (s *Session) transferDate(ctx context.Context, key data.StreamKey, date time.Time) DateResult {
	res := DateResult{Key: key, Date: date, Status: StatusDownloaded}
	payload, ok, err := s.remote.LoadStream(ctx, key, date)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		logx.Errorf("sync: %s %s: load: %v", key, date.Format(remote.WireDate), err)
		return res
	}
	if !ok {
		// The server listed the date but no longer has it; nothing to do.
		res.Status = StatusUpToDate
		return res
	}
	if err := s.local.SaveStream(ctx, key, date, payload); err != nil {
		res.Status, res.Err = StatusFailed, err
		logx.Errorf("sync: %s %s: save: %v", key, date.Format(remote.WireDate), err)
		return res
	}
	res.Bytes = len(payload)
	logx.Infof("sync: %s %s: %d bytes", key, date.Format(remote.WireDate), res.Bytes)
	return res
}

func (s *Session) writeJournal(summary *Summary) {
	if s.journal == nil {
		return
	}
	rec := &journal.SessionRecord{
		Timestamp: summary.StartedAt,
		Streams:   summary.Streams,
		UpToDate:  summary.UpToDate(),
		Partial:   summary.Partial,
		Elapsed:   summary.FinishedAt.Sub(summary.StartedAt).String(),
	}
	for _, r := range summary.Results {
		switch r.Status {
		case StatusDownloaded:
			rec.Downloaded = append(rec.Downloaded, journal.DateEntry{
				Stream: r.Key.String(),
				Date:   r.Date.Format(remote.WireDate),
				Bytes:  r.Bytes,
			})
		case StatusFailed:
			entry := journal.FailureEntry{Stream: r.Key.String()}
			if !r.Date.IsZero() {
				entry.Date = r.Date.Format(remote.WireDate)
			}
			if r.Err != nil {
				entry.Error = r.Err.Error()
			}
			rec.Failed = append(rec.Failed, entry)
		}
	}
	if path, err := s.journal.WriteSession(rec); err != nil {
		logx.Errorf("sync: write journal: %v", err)
	} else {
		logx.Infof("sync: journal written to %s", path)
	}
}
