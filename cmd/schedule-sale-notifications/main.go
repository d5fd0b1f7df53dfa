// schedule-sale-notifications queues the sale-window reminders for one song.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... PUBLIC_BASE_URL=https://... \
//	  go run ./cmd/schedule-sale-notifications --song-id 7
//
// Reminders whose fire time has already passed are queued with no delay. With
// --dry-run the plan is printed and nothing is written.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/models"
	"github.com/songcast/songcast_backend/notification"
	"github.com/songcast/songcast_backend/utils"
)

func main() {
	songID := flag.Int64("song-id", -1, "Required: song id")
	dryRun := flag.Bool("dry-run", false, "Print the reminder plan without queueing anything")
	flag.Parse()

	if *songID < 0 {
		fmt.Fprintln(os.Stderr, "--song-id is required")
		os.Exit(1)
	}

	ctx := context.Background()
	logger := config.GetLogger()
	if err := config.ConnectDatabaseWithRetry(ctx, config.DefaultRetryPolicy()); err != nil {
		fmt.Fprintf(os.Stderr, "database not initialized: %v\n", err)
		os.Exit(1)
	}
	db := config.GetDB()

	song, err := models.GetSong(ctx, db, *songID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load song %d: %v\n", *songID, err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	if *dryRun {
		out, err := utils.MarshalIndented(notification.SaleReminderPlan(*song, now))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render plan: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	scheduler := notification.NewScheduler(notification.NewOutboxQueue(db), config.PublicBaseURL(), logger)
	receipts, err := scheduler.ScheduleSaleReminders(ctx, *song, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to schedule reminders: %v\n", err)
		os.Exit(1)
	}
	for _, r := range receipts {
		logger.WithFields(logrus.Fields{
			"field":         "schedule-sale-notifications",
			"song_id":       song.ID,
			"message_id":    r.MessageID,
			"delay_seconds": r.DelaySeconds,
			"skipped":       r.Skipped,
		}).Info("reminder scheduled")
	}
	fmt.Printf("queued %d reminders for song %d\n", len(receipts), song.ID)
}
