package main

import (
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/thomas-lamb-tech/permit"
	"github.com/thomas-lamb-tech/permit/adapters/events"
	"github.com/thomas-lamb-tech/permit/bank"
	transporthttp "github.com/thomas-lamb-tech/permit/transport/http"
)

func main() {
	app := &cli.App{
		Name:  "permitd",
		Usage: "Signature-authorized token transfer service",
		Description: `permitd executes off-chain signed transfer permits: it verifies EIP-712
permit signatures, consumes unordered nonces from a per-owner bitmap, and
moves tokens through its ledger for amounts up to the signed limit.

With --redis-url the nonce bitmap and event stream are shared across
replicas; without it both stay in-process.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Value:   ":8090",
				Usage:   "HTTP listen address",
				EnvVars: []string{"PERMITD_LISTEN"},
			},
			&cli.StringFlag{
				Name:    "domain-name",
				Value:   "Permit2",
				Usage:   "EIP-712 domain name",
				EnvVars: []string{"PERMITD_DOMAIN_NAME"},
			},
			&cli.StringFlag{
				Name:    "domain-version",
				Value:   "1",
				Usage:   "EIP-712 domain version",
				EnvVars: []string{"PERMITD_DOMAIN_VERSION"},
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Usage:    "EIP-712 domain chain ID",
				EnvVars:  []string{"PERMITD_CHAIN_ID"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "verifying-contract",
				Usage:    "EIP-712 domain verifying contract address",
				EnvVars:  []string{"PERMITD_VERIFYING_CONTRACT"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for shared nonce state and the event stream (optional)",
				EnvVars: []string{"PERMITD_REDIS_URL"},
			},
			&cli.BoolFlag{
				Name:    "dev-faucet",
				Usage:   "Expose ledger mint/balance routes for development",
				EnvVars: []string{"PERMITD_DEV_FAUCET"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable debug logging",
				EnvVars: []string{"PERMITD_VERBOSE"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run(c *cli.Context) error {
	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	verifyingContract := c.String("verifying-contract")
	if !common.IsHexAddress(verifyingContract) {
		return fmt.Errorf("--verifying-contract is not a hex address")
	}

	domain, err := permit.NewDomain(
		c.String("domain-name"),
		c.String("domain-version"),
		new(big.Int).SetUint64(c.Uint64("chain-id")),
		common.HexToAddress(verifyingContract),
	)
	if err != nil {
		return fmt.Errorf("build signing domain: %w", err)
	}

	var (
		nonceStore permit.NonceStore
		publisher  message.Publisher
	)
	if redisURL := c.String("redis-url"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(c.Context).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}

		nonceStore = permit.NewRedisStore(redisClient)
		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			return fmt.Errorf("create redis publisher: %w", err)
		}
		logger.Info("using redis nonce store and event stream")
	} else {
		nonceStore = permit.NewMemoryStore()
		publisher = gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
		logger.Info("using in-process nonce store and event bus")
	}

	ledger := bank.NewLedger()
	engine := permit.NewSignatureTransfer(domain, nonceStore, ledger,
		permit.WithEventPublisher(events.NewWatermillPublisher(publisher)),
		permit.WithLogger(logger),
	)

	var faucet *bank.Ledger
	if c.Bool("dev-faucet") {
		faucet = ledger
	}

	handlers := transporthttp.NewHandlers(engine, faucet, logger)
	router := transporthttp.SetupRouter(handlers, logger)

	logger.Info("permitd listening",
		zap.String("addr", c.String("listen")),
		zap.String("domain", c.String("domain-name")),
		zap.Uint64("chain_id", c.Uint64("chain-id")),
		zap.String("domain_separator", domain.Separator().Hex()))

	return router.Run(c.String("listen"))
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
