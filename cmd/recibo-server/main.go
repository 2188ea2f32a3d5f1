package main

import (
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/auth"
	"github.com/recibo-network/recibo-go/pkg/config"
	"github.com/recibo-network/recibo-go/pkg/events"
	"github.com/recibo-network/recibo-go/pkg/ledger"
	badgerledger "github.com/recibo-network/recibo-go/pkg/ledger/badger"
	memoryledger "github.com/recibo-network/recibo-go/pkg/ledger/memory"
	redisledger "github.com/recibo-network/recibo-go/pkg/ledger/redis"
	"github.com/recibo-network/recibo-go/pkg/logger"
	"github.com/recibo-network/recibo-go/pkg/recibo"
	"github.com/recibo-network/recibo-go/pkg/server"
	"github.com/recibo-network/recibo-go/pkg/token"
	"github.com/recibo-network/recibo-go/pkg/token/bound"
	"github.com/recibo-network/recibo-go/pkg/token/memtoken"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
)

func main() {
	app := &cli.App{
		Name:  "recibo-server",
		Usage: "Recibo message-bound transfer server",
		Description: `A service that binds off-chain-opaque messages (invoice ids, ISO20022
references, travel-rule data) to token movements, authenticating the claimed
sender per deployment-fixed policy and protecting delegated submissions
against replay.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "auth-mode",
				Usage:   "Sender authentication mode: direct, forwarder, signature",
				Value:   "signature",
				EnvVars: []string{config.EnvReciboAuthMode},
			},
			&cli.StringFlag{
				Name:     "service-address",
				Usage:    "This deployment's identity (hex address); part of the signing domain",
				EnvVars:  []string{config.EnvReciboServiceAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "owner-address",
				Usage:   "Owner allowed to change the trusted forwarder (forwarder mode)",
				EnvVars: []string{config.EnvReciboOwnerAddress},
			},
			&cli.StringFlag{
				Name:    "trusted-forwarder",
				Usage:   "Trusted forwarder address (forwarder mode)",
				EnvVars: []string{config.EnvReciboTrustedForwarder},
			},
			&cli.StringFlag{
				Name:    "domain-name",
				Usage:   "Typed-data domain name",
				Value:   config.DefaultDomainName,
				EnvVars: []string{config.EnvReciboDomainName},
			},
			&cli.StringFlag{
				Name:    "domain-version",
				Usage:   "Typed-data domain version",
				Value:   config.DefaultDomainVersion,
				EnvVars: []string{config.EnvReciboDomainVersion},
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Aliases:  []string{"chain"},
				Usage:    fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars:  []string{config.EnvReciboChainID},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "ledger-type",
				Usage:   "Authorization ledger backend: memory, badger, redis",
				Value:   "memory",
				EnvVars: []string{config.EnvReciboLedgerType},
			},
			&cli.StringFlag{
				Name:    "ledger-path",
				Usage:   "Data directory for the badger ledger",
				EnvVars: []string{config.EnvReciboLedgerPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port) for the redis ledger",
				EnvVars: []string{config.EnvReciboRedisAddress},
			},
			&cli.StringFlag{
				Name:    "token-mode",
				Usage:   "Token collaborator backend: memory, bound",
				Value:   "memory",
				EnvVars: []string{config.EnvReciboTokenMode},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL (bound token mode)",
				EnvVars: []string{config.EnvReciboRPCURL},
			},
			&cli.StringFlag{
				Name:    "token-address",
				Usage:   "ERC-20 token contract address (bound token mode)",
				EnvVars: []string{config.EnvReciboTokenAddress},
			},
			&cli.StringFlag{
				Name:    "operator-private-key",
				Usage:   "Private key (hex) used to submit token transactions (bound token mode)",
				EnvVars: []string{config.EnvReciboOperatorKey},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvReciboPort},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvReciboVerbose},
			},
		},
		Action: runReciboServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runReciboServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseServerConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l.Sugar().Infow("Using chain", "name", cfg.ChainName, "chain_id", cfg.ChainID)

	authLedger, err := buildLedger(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to build authorization ledger: %w", err)
	}
	defer func() { _ = authLedger.Close() }()

	if err := authLedger.HealthCheck(); err != nil {
		return fmt.Errorf("authorization ledger unhealthy: %w", err)
	}

	serviceAddress := common.HexToAddress(cfg.ServiceAddress)

	tok, err := buildToken(cfg, serviceAddress, l)
	if err != nil {
		return fmt.Errorf("failed to build token collaborator: %w", err)
	}

	verifier := typeddata.NewVerifier(typeddata.Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           new(big.Int).SetUint64(uint64(cfg.ChainID)),
		VerifyingContract: serviceAddress,
	}, nil)

	mode, err := auth.ParseMode(cfg.AuthMode)
	if err != nil {
		return err
	}

	engine, err := auth.NewEngine(auth.Config{
		Mode:             mode,
		Owner:            common.HexToAddress(cfg.OwnerAddress),
		TrustedForwarder: common.HexToAddress(cfg.TrustedForwarder),
		Verifier:         verifier,
		Ledger:           authLedger,
		Logger:           l,
	})
	if err != nil {
		return fmt.Errorf("failed to build authentication engine: %w", err)
	}

	sink := events.NewMemorySink()
	defer func() { _ = sink.Close() }()

	facade, err := recibo.NewRecibo(recibo.Config{
		Engine:         engine,
		Token:          tok,
		Ledger:         authLedger,
		Sink:           sink,
		ServiceAddress: serviceAddress,
		Logger:         l,
	})
	if err != nil {
		return fmt.Errorf("failed to build facade: %w", err)
	}

	srv := server.NewServer(facade, cfg.Port, 100, l)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Recibo server running",
		"port", cfg.Port,
		"auth_mode", cfg.AuthMode,
		"ledger", cfg.LedgerType,
		"token", cfg.TokenMode,
	)
	l.Sugar().Infow("Available endpoints",
		"send", "POST /msg",
		"transfer", "POST /transfer",
		"permit", "POST /permit",
		"permit_transfer", "POST /permit-transfer",
		"transfer_authorization", "POST /transfer-authorization",
		"authorization_state", "GET /authorization-state",
		"events", "GET /events")
	l.Sugar().Info("Press Ctrl+C to stop")

	select {}
}

func parseServerConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := &config.ServerConfig{
		AuthMode:         c.String("auth-mode"),
		OwnerAddress:     c.String("owner-address"),
		ServiceAddress:   c.String("service-address"),
		TrustedForwarder: c.String("trusted-forwarder"),
		DomainName:       c.String("domain-name"),
		DomainVersion:    c.String("domain-version"),
		ChainID:          config.ChainId(c.Uint64("chain-id")),
		LedgerType:       config.LedgerType(c.String("ledger-type")),
		LedgerPath:       c.String("ledger-path"),
		RedisAddress:     c.String("redis-address"),
		TokenMode:        config.TokenMode(c.String("token-mode")),
		Port:             c.Int("port"),
		Verbose:          c.Bool("verbose"),
	}
	if cfg.TokenMode == config.TokenModeBound {
		cfg.RemoteToken = &config.RemoteTokenConfig{
			RpcUrl:             c.String("rpc-url"),
			TokenAddress:       c.String("token-address"),
			OperatorPrivateKey: c.String("operator-private-key"),
		}
	}
	return cfg, nil
}

func buildLedger(cfg *config.ServerConfig, l *zap.Logger) (ledger.Ledger, error) {
	switch cfg.LedgerType {
	case config.LedgerTypeMemory:
		l.Sugar().Warnw("Using in-memory authorization ledger; consumed nonces will not survive a restart")
		return memoryledger.NewMemoryLedger(), nil
	case config.LedgerTypeBadger:
		return badgerledger.NewBadgerLedger(cfg.LedgerPath, l)
	case config.LedgerTypeRedis:
		return redisledger.NewRedisLedger(&redisledger.RedisConfig{Address: cfg.RedisAddress}, l)
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.LedgerType)
	}
}

func buildToken(cfg *config.ServerConfig, serviceAddress common.Address, l *zap.Logger) (token.Token, error) {
	switch cfg.TokenMode {
	case config.TokenModeMemory:
		l.Sugar().Warnw("Using in-memory token collaborator; development only")
		mt := memtoken.NewMemToken("Recibo Dev Token",
			new(big.Int).SetUint64(uint64(cfg.ChainID)), serviceAddress)
		mt.SetEngineSpender(serviceAddress)
		return mt, nil
	case config.TokenModeBound:
		client, err := ethclient.Dial(cfg.RemoteToken.RpcUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to dial RPC %s: %w", cfg.RemoteToken.RpcUrl, err)
		}
		key, err := crypto.HexToECDSA(trim0x(cfg.RemoteToken.OperatorPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("invalid operator private key: %w", err)
		}
		return bound.NewBoundToken(client, common.HexToAddress(cfg.RemoteToken.TokenAddress), key, l)
	default:
		return nil, fmt.Errorf("unsupported token mode: %s", cfg.TokenMode)
	}
}

func trim0x(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}
