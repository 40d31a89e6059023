package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FloraLens-io/floralens/internal/auth"
	"github.com/FloraLens-io/floralens/internal/config"
	"github.com/FloraLens-io/floralens/internal/entitlement"
	"github.com/FloraLens-io/floralens/internal/identity"
	"github.com/FloraLens-io/floralens/internal/payment"
	"github.com/FloraLens-io/floralens/internal/session"
	"github.com/FloraLens-io/floralens/internal/storage"
	"github.com/FloraLens-io/floralens/internal/store"
)

const version = "0.1.0"

type app struct {
	auth     *auth.Service
	payments *payment.Service
	sessions *session.Store
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	sessions, err := session.Open(cfg.Local.Path)
	if err != nil {
		return nil, err
	}

	id := identity.NewClient(cfg.Identity.URL, cfg.Identity.AnonKey)
	st := store.NewClient(cfg.API.BaseURL, cfg.API.Key, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
	svc := auth.NewService(id, st, sessions, entitlement.New(st))

	if cfg.Avatars.Bucket != "" {
		avatars, err := storage.NewAvatarUploader(
			cfg.Avatars.Endpoint, cfg.Avatars.Region, cfg.Avatars.Bucket,
			cfg.Avatars.AccessKeyID, cfg.Avatars.SecretAccessKey, cfg.Avatars.PublicBaseURL,
		)
		if err != nil {
			sessions.Close()
			return nil, err
		}
		svc.SetAvatarStore(avatars)
	}

	return &app{
		auth:     svc,
		payments: payment.New(st, cfg.Payment.PublicKey),
		sessions: sessions,
	}, nil
}

func printEntitlements(svc *auth.Service) {
	ent := svc.Entitlements()
	now := time.Now()
	fmt.Printf("state:                %s\n", svc.State())
	if sess := svc.Current(); sess != nil {
		fmt.Printf("user:                 %s (%s)\n", sess.UserID, sess.Email)
	}
	fmt.Printf("active subscription:  %v\n", ent.HasActiveSubscription(now))
	fmt.Printf("daily scans left:     %d\n", ent.DailyScansRemaining())
	fmt.Printf("can scan:             %v\n", ent.CanScan(now))
}

func main() {
	configPath := flag.String("config", "floralens.yml", "Path to configuration file")
	email := flag.String("email", "", "Email to sign in with")
	password := flag.String("password", "", "Password to sign in with")
	restore := flag.Bool("restore", false, "Restore a persisted session instead of signing in")
	scan := flag.Bool("scan", false, "Record a scan after checking entitlements")
	verify := flag.String("verify", "", "Verify a payment reference and exit")
	flag.Parse()

	log.Infof("floracli v%s (config=%s)", version, *configPath)

	a, err := buildApp(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	defer a.sessions.Close()
	svc := a.auth

	ctx := context.Background()

	if *verify != "" {
		v, err := a.payments.Verify(ctx, *verify)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("reference: %s\nsuccess:   %v\namount:    %d\nchannel:   %s\n",
			v.Reference, v.Success, v.Amount, v.Channel)
		return
	}

	switch {
	case *restore:
		sess, err := svc.Restore(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if sess == nil {
			fmt.Println("no session to restore")
			return
		}
	case *email != "":
		if _, err := svc.SignIn(ctx, *email, *password); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatal("pass -email/-password to sign in, or -restore")
	}

	printEntitlements(svc)

	if *scan {
		if !svc.CanScan() {
			fmt.Println("scan not allowed: daily limit reached and no active subscription")
			return
		}
		count, err := svc.RecordScan(ctx)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("scan recorded, count today: %d\n", count)
	}
}
