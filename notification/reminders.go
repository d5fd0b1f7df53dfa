package notification

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/songcast/songcast_backend/models"
)

const (
	maxTitleRunes = 32
	maxBodyRunes  = 128
)

// Reminder is one planned sale-window notification.
type Reminder struct {
	Name   string    `json:"name"`
	FireAt time.Time `json:"fire_at"`
	// DelaySeconds is FireAt relative to the planning time, never negative.
	DelaySeconds int `json:"delay_seconds"`
	Job          Job `json:"job"`
}

// SaleReminderPlan returns the sale-window notifications of song: a day before the
// sale opens (everyone), at open (everyone), half an hour before close (accounts
// that have not collected) and at close (collectors). Windows already behind now
// stay in the plan; scheduling clamps their delay to zero.
func SaleReminderPlan(song models.Song, now time.Time) []Reminder {
	start, end := song.SaleStart(), song.SaleEnd()
	songID := song.ID
	collected, notCollected := true, false

	candidates := []Reminder{
		{
			Name:   "sale_tomorrow",
			FireAt: start.Add(-24 * time.Hour),
			Job:    Job{Scope: ScopeAll, Title: "Dropping tomorrow", Body: announce(song, start.Add(-24*time.Hour), "goes on sale in 24 hours")},
		},
		{
			Name:   "sale_open",
			FireAt: start,
			Job:    Job{Scope: ScopeAll, Title: "Sale is live", Body: announce(song, start, "is now available to collect")},
		},
		{
			Name:   "sale_closing",
			FireAt: end.Add(-30 * time.Minute),
			Job: Job{
				Scope: ScopeOwnership, SongId: &songID, DidCollect: &notCollected,
				Title: "Last call", Body: announce(song, end.Add(-30*time.Minute), "closes in 30 minutes"),
			},
		},
		{
			Name:   "sale_closed",
			FireAt: end,
			Job: Job{
				Scope: ScopeOwnership, SongId: &songID, DidCollect: &collected,
				Title: "Thanks for collecting", Body: announce(song, end, "sale has ended. Check your position"),
			},
		},
	}

	plan := make([]Reminder, 0, len(candidates))
	for _, r := range candidates {
		r.DelaySeconds = max(int(r.FireAt.Sub(now)/time.Second), 0)
		r.Job.Title = truncateRunes(r.Job.Title, maxTitleRunes)
		r.Job.Body = truncateRunes(r.Job.Body, maxBodyRunes)
		plan = append(plan, r)
	}
	return plan
}

func announce(song models.Song, at time.Time, what string) string {
	if !song.IsRevealed(at) {
		return "A new song " + what
	}
	s := fmt.Sprintf("%q", song.Title)
	if song.FeaturingText != "" {
		s += " " + song.FeaturingText
	}
	return s + " " + what
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// ScheduleSaleReminders enqueues SaleReminderPlan(song, now) and returns one receipt per reminder.
func (s *Scheduler) ScheduleSaleReminders(ctx context.Context, song models.Song, now time.Time) ([]Receipt, error) {
	plan := SaleReminderPlan(song, now)
	receipts := make([]Receipt, 0, len(plan))
	for _, r := range plan {
		receipt, err := s.Schedule(ctx, r.Job, r.DelaySeconds)
		if err != nil {
			return receipts, fmt.Errorf("schedule %s for song %d: %w", r.Name, song.ID, err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}
