package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promptnotify/internal/app"
	"promptnotify/internal/config"
	"promptnotify/internal/domain"
	"promptnotify/internal/orchestrator"
	"promptnotify/internal/sendtime"
)

func main() {
	var (
		cfgPath       string
		envPath       string
		runBucket     string
		processMember string
		entryID       string
		seedPath      string
	)
	flag.StringVar(&cfgPath, "config", "./promptnotify.json", "path to config json/yaml")
	flag.StringVar(&envPath, "env", ".env", "optional .env file loaded before the config")
	flag.StringVar(&runBucket, "run-bucket", "", "run one batch for the UTC bucket HH:MM now and exit")
	flag.StringVar(&processMember, "process-member", "", "run one member task now and print the JSON result")
	flag.StringVar(&entryID, "entry", "", "with -process-member: send this prompt content entry id")
	flag.StringVar(&seedPath, "seed", "", "import members and prompt contents from a JSON file and exit")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fatal("load env", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fatal("init", err)
	}

	if seedPath != "" || runBucket != "" || processMember != "" {
		err := oneShot(ctx, a, seedPath, runBucket, processMember, entryID)
		stop(a, app.StopOneShot)
		if err != nil {
			fatal("run", err)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		stop(a, app.StopFatalError)
		fatal("start", err)
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stop(a, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fatal("exit", err)
	}
}

func oneShot(ctx context.Context, a *app.App, seedPath, runBucket, memberID, entryID string) error {
	now := time.Now().UTC()
	if seedPath != "" {
		f, err := os.Open(seedPath)
		if err != nil {
			return err
		}
		defer f.Close()
		rep, err := a.Seed(ctx, f, now)
		if err != nil {
			return err
		}
		if err := printJSON(rep); err != nil {
			return err
		}
	}
	if runBucket != "" {
		bucket, err := domain.ParseClockTime(runBucket)
		if err != nil {
			return err
		}
		bucket.Minute = sendtime.Bucket(bucket.Minute)
		at := time.Date(now.Year(), now.Month(), now.Day(), bucket.Hour, bucket.Minute, 0, 0, time.UTC)
		rep, err := a.RunBucket(ctx, bucket, at)
		if err != nil {
			return err
		}
		if err := printJSON(rep); err != nil {
			return err
		}
	}
	if memberID != "" {
		res := a.ProcessMember(ctx, orchestrator.Input{
			MemberID:             memberID,
			PromptContentEntryID: entryID,
			SystemDateObject:     domain.DateObjectOf(now),
		})
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.ErrorMessage)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

func fatal(stage string, err error) {
	fmt.Fprintf(os.Stderr, "fatal %s: %v\n", stage, err)
	os.Exit(1)
}
