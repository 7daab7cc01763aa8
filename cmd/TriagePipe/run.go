package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TriagePipe/internal/api"
	"github.com/BTreeMap/TriagePipe/internal/clinic"
	"github.com/BTreeMap/TriagePipe/internal/consult"
	"github.com/BTreeMap/TriagePipe/internal/flow"
	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/guardrail"
	"github.com/BTreeMap/TriagePipe/internal/lockfile"
	"github.com/BTreeMap/TriagePipe/internal/messaging"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/triage"
	"github.com/BTreeMap/TriagePipe/internal/twiliosms"
	"github.com/BTreeMap/TriagePipe/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

// run wires every component and blocks until ctx is cancelled or a component
// fails.
func run(ctx context.Context, config Config, flags Flags) error {
	lock, err := lockfile.Acquire(config.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("run: lock release failed", "error", err)
		}
	}()

	st, err := store.Open(config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("run: store close failed", "error", err)
		}
	}()

	var gaClient *genai.Client
	if config.OpenAIKey != "" {
		if gaClient, err = genai.NewClient(buildGenAIOptions(config)...); err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
	} else {
		slog.Warn("run: no OpenAI API key, consults use the local fallback and speech is off")
	}

	directory, closeDirectory, err := buildDirectory(ctx, config)
	if err != nil {
		return err
	}
	defer closeDirectory()

	extractor := triage.NewDefaultExtractor()
	consultOpts := []consult.Option{
		consult.WithDirectory(directory),
		consult.WithOutcomeRecorder(st),
		consult.WithExtractor(extractor),
		consult.WithShortlistSize(config.ShortlistSize),
	}
	if gaClient != nil {
		consultOpts = append(consultOpts, consult.WithGenerator(gaClient))
	}
	consultSvc := consult.NewService(consultOpts...)

	sessions := session.NewStore(flow.DefaultCatalog(extractor), guardrail.NewDefaultMonitor(),
		session.WithIdleTimeout(config.SessionIdleTimeout))
	defer sessions.DisposeAll()

	g, gctx := errgroup.WithContext(ctx)

	apiOpts := []api.Option{api.WithOutcomes(st), api.WithExtractor(extractor)}
	if gaClient != nil {
		apiOpts = append(apiOpts, api.WithSynthesizer(gaClient))
	}

	msgService, twilioSvc, disconnect, err := buildMessaging(gctx, config, flags)
	if err != nil {
		return err
	}
	defer disconnect()
	var handler *messaging.ResponseHandler
	if msgService != nil {
		if err := msgService.Start(gctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer func() {
			if err := msgService.Stop(); err != nil {
				slog.Warn("run: messaging stop failed", "error", err)
			}
		}()

		handler = messaging.NewResponseHandler(msgService, sessions, consultSvc,
			messaging.WithOutbox(st),
			messaging.WithDedup(st),
			messaging.WithReceiptRecorder(st),
			messaging.WithDefaultCountry(config.DefaultCountry),
		)
		handler.Start(gctx)

		outbox := store.NewOutboxSender(st, messaging.OutboxSendFunc(msgService), DefaultOutboxPollInterval)
		if err := outbox.RecoverStaleMessages(); err != nil {
			slog.Warn("run: outbox recovery failed", "error", err)
		}
		g.Go(func() error {
			outbox.Run(gctx)
			return nil
		})
		apiOpts = append(apiOpts, api.WithShortlistSender(handler))
	}
	if twilioSvc != nil {
		apiOpts = append(apiOpts, api.WithTwilio(twilioSvc))
	}

	server := api.NewServer(sessions, consultSvc, apiOpts...)
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, config.APIAddr)
	})

	err = g.Wait()
	if handler != nil {
		handler.Wait()
	}
	return err
}

// buildDirectory selects the clinic directory: MongoDB when configured,
// otherwise the JSON file, otherwise an empty directory. A Redis URL adds a
// snapshot cache in front of it.
func buildDirectory(ctx context.Context, config Config) (clinic.Directory, func(), error) {
	var (
		dir     clinic.Directory
		cleanup = func() {}
	)
	switch {
	case config.MongoURI != "":
		var opts []clinic.MongoOption
		if config.MongoDatabase != "" {
			opts = append(opts, clinic.WithMongoDatabase(config.MongoDatabase))
		}
		mongoDir, err := clinic.NewMongoDirectory(ctx, config.MongoURI, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect clinic directory: %w", err)
		}
		dir = mongoDir
		cleanup = func() {
			if err := mongoDir.Close(context.Background()); err != nil {
				slog.Warn("buildDirectory: mongo disconnect failed", "error", err)
			}
		}
	case config.ClinicsFile != "":
		clinics, err := clinic.LoadFile(config.ClinicsFile)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("buildDirectory: loaded clinic file", "path", config.ClinicsFile, "clinics", len(clinics))
		dir = clinic.NewStaticDirectory(clinics)
	default:
		slog.Warn("buildDirectory: no clinic source configured, shortlists will be empty")
		dir = clinic.NewStaticDirectory(nil)
	}

	if config.RedisURL != "" {
		rdb, err := clinic.NewRedisClient(ctx, config.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		inner := cleanup
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("buildDirectory: redis close failed", "error", err)
			}
			inner()
		}
		dir = clinic.NewCachedDirectory(dir, rdb, clinic.DefaultCacheTTL)
	}
	return dir, cleanup, nil
}

// buildMessaging creates the text channel. WhatsApp wins when both WhatsApp
// and Twilio are configured. Neither yields a nil service.
func buildMessaging(ctx context.Context, config Config, flags Flags) (messaging.Service, *messaging.TwilioService, func(), error) {
	noop := func() {}
	switch {
	case config.WhatsAppEnabled:
		waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config, flags)...)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(waClient), nil, waClient.Disconnect, nil
	case config.TwilioAccountSID != "":
		twClient, err := twiliosms.NewClient(
			twiliosms.WithAccountSID(config.TwilioAccountSID),
			twiliosms.WithAuthToken(config.TwilioAuthToken),
			twiliosms.WithFrom(config.TwilioFrom),
		)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(twClient)
		if config.TwilioWebhookURL != "" {
			svc.SetWebhookURL(config.TwilioWebhookURL)
		} else {
			slog.Warn("buildMessaging: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
		}
		return svc, svc, noop, nil
	default:
		slog.Info("buildMessaging: no text channel configured")
		return nil, nil, noop, nil
	}
}
