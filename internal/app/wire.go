package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/duration-fi/durationd/internal/blob/s3"
	"github.com/duration-fi/durationd/internal/cache/redis"
	"github.com/duration-fi/durationd/internal/config"
	"github.com/duration-fi/durationd/internal/crypto"
	"github.com/duration-fi/durationd/internal/domain"
	"github.com/duration-fi/durationd/internal/engine"
	"github.com/duration-fi/durationd/internal/notify"
	"github.com/duration-fi/durationd/internal/price"
	"github.com/duration-fi/durationd/internal/service"
	"github.com/duration-fi/durationd/internal/settlement"
	"github.com/duration-fi/durationd/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Commitments domain.CommitmentStore
	Options     domain.OptionStore
	Settlements domain.SettlementStore
	Audit       domain.AuditStore

	// Redis-backed infrastructure
	PriceCache domain.PriceCache
	Locks      domain.LockManager
	Bus        domain.EventBus

	// Lifecycle engine and services
	Engine        *engine.Engine
	CommitmentSvc *service.CommitmentService
	OptionSvc     *service.OptionService

	// Archiver is nil unless archiving is enabled.
	Archiver *s3blob.Archiver

	// Notifier is nil when no alert channel is configured.
	Notifier *notify.Notifier
}

// Wire constructs all dependencies from the configuration, restores durable
// state into the in-memory engine, and returns a cleanup function that closes
// every acquired resource in reverse order.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	// PostgreSQL
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: migrations: %w", err))
		}
	}

	commitStore := postgres.NewCommitmentStore(pg.Pool())
	optionStore := postgres.NewOptionStore(pg.Pool())
	settlementStore := postgres.NewSettlementStore(pg.Pool())
	auditStore := postgres.NewAuditStore(pg.Pool())

	// Redis
	rdb, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = rdb.Close() })

	priceCache := redis.NewPriceCache(rdb, cfg.Prices.CacheTTL.Duration)
	locks := redis.NewLockManager(rdb)
	bus := redis.NewEventBus(rdb, cfg.Redis.StreamMaxLen)

	// Price source chain: cache, then live oracle, then static dev prices.
	tiers := []price.Source{
		price.NewCached(priceCache, cfg.Prices.OracleMaxAge.Duration),
	}
	if cfg.Prices.OracleURL != "" {
		tiers = append(tiers, price.NewHTTPOracle("oracle", cfg.Prices.OracleURL, "", cfg.Prices.OracleMaxAge.Duration))
	}
	if cfg.Prices.AllowStaticPrices {
		static, err := price.NewStatic(parseStaticPrices(cfg.Prices.StaticPrices), true)
		if err != nil {
			return fail(fmt.Errorf("wire: static prices: %w", err))
		}
		tiers = append(tiers, static)
	}
	prices := price.NewChain(logger, tiers...)

	// Settlement gateway: 1inch venue behind deviation guards, with every
	// attempt recorded to the settlements table.
	venue := settlement.NewOneInchClient(cfg.OneInch.BaseURL, cfg.OneInch.APIKey, cfg.OneInch.ChainID)
	gateway := settlement.NewGateway(
		venue,
		venue,
		common.HexToAddress(cfg.Settlement.Spender),
		cfg.Settlement.ToleranceBps,
		logger,
	)
	recording := settlement.NewRecordingGateway(gateway, settlementStore, logger)

	// Engine
	assets, err := assetLimits(cfg.Assets)
	if err != nil {
		return fail(fmt.Errorf("wire: assets: %w", err))
	}
	fees, err := engine.NewFeeDistributor(cfg.Protocol.FeeBps)
	if err != nil {
		return fail(fmt.Errorf("wire: fees: %w", err))
	}

	dom := crypto.Domain{
		Name:              cfg.Protocol.Name,
		Version:           cfg.Protocol.Version,
		ChainID:           cfg.Protocol.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Protocol.VerifyingContract),
	}
	eng := engine.New(
		engine.NewBook(assets),
		engine.NewNonceRegistry(),
		engine.NewCollateralLedger(),
		engine.NewVault(),
		fees,
		prices,
		recording,
		engine.Config{
			Domain: dom,
			Stable: domain.AssetInfo{
				Address:  common.HexToAddress(cfg.Stable.Address),
				Symbol:   cfg.Stable.Symbol,
				Decimals: cfg.Stable.Decimals,
			},
			Custody:     common.HexToAddress(cfg.Protocol.Custody),
			Treasury:    common.HexToAddress(cfg.Protocol.Treasury),
			SlippageBps: cfg.Protocol.SlippageBps,
		},
		logger,
	)

	// Services
	commitmentSvc := service.NewCommitmentService(eng, commitStore, bus, auditStore, dom, logger)
	optionSvc := service.NewOptionService(eng, locks, optionStore, commitStore, bus, auditStore, logger)

	// Restore durable state into the engine before serving anything.
	restoredOpts, err := optionSvc.RestoreState(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: restore options: %w", err))
	}
	reloaded, err := commitmentSvc.ReloadBook(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: reload book: %w", err))
	}
	logger.Info("wire: state restored",
		slog.Int("options", restoredOpts),
		slog.Int("commitments", reloaded),
	)

	deps := &Dependencies{
		Commitments:   commitStore,
		Options:       optionStore,
		Settlements:   settlementStore,
		Audit:         auditStore,
		PriceCache:    priceCache,
		Locks:         locks,
		Bus:           bus,
		Engine:        eng,
		CommitmentSvc: commitmentSvc,
		OptionSvc:     optionSvc,
	}

	// Cold-storage archiver (optional).
	if cfg.Archive.Enabled {
		blob, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := blob.Health(ctx); err != nil {
			return fail(fmt.Errorf("wire: s3 health: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(blob), settlementStore, optionStore, auditStore)
	}

	// Operator notifications (optional).
	if n := buildNotifier(cfg, logger); n != nil {
		deps.Notifier = n
	}

	return deps, cleanup, nil
}

// assetLimits converts the configured allow-list into book limits. Sizes have
// already passed Validate, so parse failures here indicate a programming
// error.
func assetLimits(assets []config.AssetConfig) (map[common.Address]engine.AssetLimits, error) {
	out := make(map[common.Address]engine.AssetLimits, len(assets))
	for _, a := range assets {
		minSize, ok := new(big.Int).SetString(a.MinSize, 10)
		if !ok {
			return nil, fmt.Errorf("asset %s: bad min_size %q", a.Symbol, a.MinSize)
		}
		maxSize, ok := new(big.Int).SetString(a.MaxSize, 10)
		if !ok {
			return nil, fmt.Errorf("asset %s: bad max_size %q", a.Symbol, a.MaxSize)
		}
		addr := common.HexToAddress(a.Address)
		out[addr] = engine.AssetLimits{
			Info: domain.AssetInfo{
				Address:  addr,
				Symbol:   a.Symbol,
				Decimals: a.Decimals,
			},
			MinSize: minSize,
			MaxSize: maxSize,
		}
	}
	return out, nil
}

// parseStaticPrices converts the configured address -> price map. Entries
// have already passed Validate; unparseable ones are skipped.
func parseStaticPrices(raw map[string]string) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(raw))
	for addr, p := range raw {
		v, ok := new(big.Int).SetString(p, 10)
		if !ok {
			continue
		}
		out[common.HexToAddress(addr)] = v
	}
	return out
}

// buildNotifier assembles the alert senders from config, or returns nil when
// none is configured.
func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}

	events := make([]domain.EventType, 0, len(cfg.Notify.Events))
	for _, e := range cfg.Notify.Events {
		events = append(events, domain.EventType(e))
	}
	return notify.NewNotifier(senders, events, logger)
}
