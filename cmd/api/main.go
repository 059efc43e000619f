package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/config"
	"github.com/swissborg/certificate-guardian/internal/api"
	"github.com/swissborg/certificate-guardian/internal/chain"
	"github.com/swissborg/certificate-guardian/internal/hashengine"
	"github.com/swissborg/certificate-guardian/internal/issuance"
	"github.com/swissborg/certificate-guardian/internal/registry"
	"github.com/swissborg/certificate-guardian/internal/store"
	"github.com/swissborg/certificate-guardian/internal/verification"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	log.Info("api service init...")
	defer log.Info("api service stop")

	ctx, cancelCancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	if err := godotenv.Load(".env"); err != nil {
		var pathError *fs.PathError
		if !errors.As(err, &pathError) {
			log.Fatalf("parsing .env file: %v", err)
		}
	}

	configPath := os.Getenv("CONFIG_PATH")
	privKey := os.Getenv("PRIVATE_KEY")
	signingKey := os.Getenv("SIGNING_KEY")
	if signingKey == "" {
		signingKey = privKey
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	txKey, err := hashengine.ParsePrivateKey(privKey)
	if err != nil {
		log.Fatalf("prepare transaction key: %v", err)
	}

	engine, err := hashengine.NewEngineFromHex(signingKey)
	if err != nil {
		log.Fatalf("failed to create hash engine %v", err)
	}

	chainClient, err := newChainClient(ctx, cfg, txKey)
	if err != nil {
		log.Fatalf("failed to create chain client %v", err)
	}
	defer chainClient.Close()

	ownerCtx, cancelOwner := context.WithTimeout(ctx, cfg.Chain.CallTimeout)
	err = chainClient.EnsureOwner(ownerCtx)
	cancelOwner()
	if err != nil {
		log.Fatalf("ensure transaction key owns the registry: %v", err)
	}

	records, err := store.Open(cfg.Store.Path, cfg.Store.InMemory)
	if err != nil {
		log.Fatalf("failed to open badger %v", err)
	}
	defer records.Close()

	issuer, err := issuance.NewService(engine, records, chainClient, issuance.Options{
		Workers:         cfg.Registration.Workers,
		MaxAttempts:     cfg.Registration.MaxAttempts,
		InitialInterval: cfg.Registration.InitialInterval,
		MaxInterval:     cfg.Registration.MaxInterval,
		TaskExpiration:  cfg.Registration.TaskExpiration,
	})
	if err != nil {
		log.Fatalf("failed to create issuance service %v", err)
	}
	defer issuer.Close()

	if n, err := issuer.RetryPending(0); err != nil {
		log.WithError(err).Error("queue pending registrations")
	} else if n > 0 {
		log.WithField("count", n).Info("queued pending registrations")
	}

	log.
		WithField("backend", cfg.Chain.Backend).
		WithField("signer", engine.Signer().Hex()).
		WithField("from", chainClient.From().Hex()).
		Info("services ready")

	server := api.NewServer(issuer, verification.NewOrchestrator(records, chainClient, engine), records)

	go func() {
		if err := server.Start(cfg.APIConf); err != nil && (!errors.Is(err, http.ErrServerClosed)) {
			log.WithError(err).Fatal("shutting down the server")
		}
	}()

	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		select {
		case <-quit:
			log.Info("Gracefully stopping…")
			cancelCancel()

			if err := server.Stop(); err != nil {
				log.WithError(err).Fatal()
			}
		case <-ctx.Done():
			return
		}
	}()
	<-waiting
	log.Info("🏁 finished.")
}

func newChainClient(ctx context.Context, cfg *config.Config, key *ecdsa.PrivateKey) (chain.Client, error) {
	switch cfg.Chain.Backend {
	case config.BackendLedger:
		owner := crypto.PubkeyToAddress(key.PublicKey)
		log.Warn("using the in-process registry ledger, fingerprints are not written to any chain")
		return chain.NewLedgerClient(registry.NewLedger(owner), owner), nil
	default:
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		client, err := chain.Dial(dialCtx, cfg.Node, cfg.RegistryAddress, key, chain.Options{
			ConfirmTimeout: cfg.Chain.ConfirmTimeout,
			CallTimeout:    cfg.Chain.CallTimeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
