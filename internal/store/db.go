// Package store is the engine's State Store: a WAL-mode sqlite database
// holding subscriptions, open holdings, settled swap records, the token
// metadata cache, and the Event Bus's durable outbox. Adapted from the
// teacher's internal/storage package, same connection and pragma handling,
// schema replaced for the copy-trade domain.
package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/model"
	"copytrade-engine/internal/token"
)

// DB wraps the sqlite connection shared by every stage that needs durability.
type DB struct {
	db *sql.DB
}

// NewDB opens (creating if necessary) the sqlite database at path, with the
// same WAL/synchronous/busy-timeout pragmas the teacher uses.
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("state store initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		pk INTEGER PRIMARY KEY AUTOINCREMENT,
		follower_wallet TEXT NOT NULL,
		follower_chat INTEGER NOT NULL,
		leader_wallet TEXT NOT NULL,
		leader_alias TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		filter_min_buy INTEGER NOT NULL DEFAULT 0,
		max_buy_times INTEGER NOT NULL DEFAULT 0,
		max_position INTEGER NOT NULL DEFAULT 0,
		auto_buy INTEGER NOT NULL DEFAULT 1,
		auto_sell INTEGER NOT NULL DEFAULT 1,
		auto_buy_ratio REAL NOT NULL DEFAULT 100,
		min_buy_sol INTEGER NOT NULL DEFAULT 0,
		max_buy_sol INTEGER NOT NULL DEFAULT 0,
		min_sell_ratio REAL NOT NULL DEFAULT 0,
		anti_fast_trade INTEGER NOT NULL DEFAULT 0,
		fast_trade_threshold INTEGER NOT NULL DEFAULT 0,
		fast_trade_duration INTEGER NOT NULL DEFAULT 0,
		fast_trade_sleep_threshold INTEGER NOT NULL DEFAULT 0,
		fast_trade_sleep_time INTEGER NOT NULL DEFAULT 0,
		fast_trade_window_start INTEGER NOT NULL DEFAULT 0,
		fast_trade_count INTEGER NOT NULL DEFAULT 0,
		priority_fee INTEGER NOT NULL DEFAULT 0,
		anti_sandwich INTEGER NOT NULL DEFAULT 0,
		auto_slippage INTEGER NOT NULL DEFAULT 1,
		custom_slippage REAL NOT NULL DEFAULT 0.05,
		current_position INTEGER NOT NULL DEFAULT 0,
		sol_sold INTEGER NOT NULL DEFAULT 0,
		sol_earned INTEGER NOT NULL DEFAULT 0,
		token_number INTEGER NOT NULL DEFAULT 0,
		failed_times INTEGER NOT NULL DEFAULT 0,
		filtered_times INTEGER NOT NULL DEFAULT 0,
		UNIQUE(leader_wallet, follower_chat)
	);

	CREATE TABLE IF NOT EXISTS holdings (
		leader_wallet TEXT NOT NULL,
		mint TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		decimals INTEGER NOT NULL DEFAULT 0,
		subscription_pk INTEGER NOT NULL,
		my_amount INTEGER NOT NULL DEFAULT 0,
		target_amount INTEGER NOT NULL DEFAULT 0,
		current_position INTEGER NOT NULL DEFAULT 0,
		max_position INTEGER NOT NULL DEFAULT 0,
		buy_times INTEGER NOT NULL DEFAULT 0,
		max_buy_times INTEGER NOT NULL DEFAULT 0,
		sol_sold INTEGER NOT NULL DEFAULT 0,
		sol_earned INTEGER NOT NULL DEFAULT 0,
		latest_trade_ts INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (leader_wallet, mint, subscription_pk)
	);

	CREATE TABLE IF NOT EXISTS swap_records (
		signature TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		direction TEXT NOT NULL,
		input_mint TEXT NOT NULL,
		input_amount INTEGER NOT NULL,
		input_decimals INTEGER NOT NULL,
		output_mint TEXT NOT NULL,
		output_amount INTEGER NOT NULL,
		output_decimals INTEGER NOT NULL,
		fee INTEGER NOT NULL DEFAULT 0,
		slot INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		sol_change INTEGER NOT NULL DEFAULT 0,
		swap_sol_change INTEGER NOT NULL DEFAULT 0,
		other_sol_change INTEGER NOT NULL DEFAULT 0,
		program_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS token_cache (
		mint TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		decimals INTEGER NOT NULL,
		token_program TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bus_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(topic, idempotency_key)
	);

	CREATE TABLE IF NOT EXISTS bus_offsets (
		topic TEXT NOT NULL,
		consumer_group TEXT NOT NULL,
		last_delivered_id INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (topic, consumer_group)
	);

	CREATE TABLE IF NOT EXISTS ledger_applies (
		signature TEXT NOT NULL,
		direction TEXT NOT NULL,
		leader_wallet TEXT NOT NULL,
		mint TEXT NOT NULL,
		subscription_pk INTEGER NOT NULL,
		applied_at INTEGER NOT NULL,
		PRIMARY KEY (signature, direction, leader_wallet, mint, subscription_pk)
	);

	CREATE TABLE IF NOT EXISTS pool_registry (
		input_mint TEXT NOT NULL,
		output_mint TEXT NOT NULL,
		pool_state TEXT NOT NULL,
		vault_in TEXT NOT NULL,
		vault_out TEXT NOT NULL,
		user_ata_in TEXT NOT NULL,
		user_ata_out TEXT NOT NULL,
		authority_pda TEXT NOT NULL,
		fee_bps INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (input_mint, output_mint)
	);

	CREATE INDEX IF NOT EXISTS idx_swap_records_timestamp ON swap_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_holdings_subscription ON holdings(subscription_pk);
	`

	_, err := db.Exec(schema)
	return err
}

// UpsertSubscription inserts or replaces a subscription keyed by pk (0 means insert new).
func (d *DB) UpsertSubscription(s *model.Subscription) (int64, error) {
	if s.PK == 0 {
		res, err := d.db.Exec(`
			INSERT INTO subscriptions
			(follower_wallet, follower_chat, leader_wallet, leader_alias, active, filter_min_buy,
			 max_buy_times, max_position, auto_buy, auto_sell, auto_buy_ratio, min_buy_sol, max_buy_sol,
			 min_sell_ratio, anti_fast_trade, fast_trade_threshold, fast_trade_duration,
			 fast_trade_sleep_threshold, fast_trade_sleep_time, fast_trade_window_start, fast_trade_count,
			 priority_fee, anti_sandwich, auto_slippage, custom_slippage, current_position, sol_sold,
			 sol_earned, token_number, failed_times, filtered_times)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			s.FollowerWallet, s.FollowerChat, s.LeaderWallet, s.LeaderAlias, s.Active, s.FilterMinBuy,
			s.MaxBuyTimes, s.MaxPosition, s.AutoBuy, s.AutoSell, s.AutoBuyRatio, s.MinBuySol, s.MaxBuySol,
			s.MinSellRatio, s.AntiFastTrade, s.FastTradeThreshold, s.FastTradeDuration,
			s.FastTradeSleepThreshold, s.FastTradeSleepTime, s.FastTradeWindowStart, s.FastTradeCount,
			s.PriorityFee, s.AntiSandwich, s.AutoSlippage, s.CustomSlippage, s.CurrentPosition, s.SolSold,
			s.SolEarned, s.TokenNumber, s.FailedTimes, s.FilteredTimes)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	_, err := d.db.Exec(`
		UPDATE subscriptions SET
			follower_wallet=?, follower_chat=?, leader_wallet=?, leader_alias=?, active=?, filter_min_buy=?,
			max_buy_times=?, max_position=?, auto_buy=?, auto_sell=?, auto_buy_ratio=?, min_buy_sol=?,
			max_buy_sol=?, min_sell_ratio=?, anti_fast_trade=?, fast_trade_threshold=?, fast_trade_duration=?,
			fast_trade_sleep_threshold=?, fast_trade_sleep_time=?, fast_trade_window_start=?, fast_trade_count=?,
			priority_fee=?, anti_sandwich=?, auto_slippage=?, custom_slippage=?, current_position=?,
			sol_sold=?, sol_earned=?, token_number=?, failed_times=?, filtered_times=?
		WHERE pk=?`,
		s.FollowerWallet, s.FollowerChat, s.LeaderWallet, s.LeaderAlias, s.Active, s.FilterMinBuy,
		s.MaxBuyTimes, s.MaxPosition, s.AutoBuy, s.AutoSell, s.AutoBuyRatio, s.MinBuySol, s.MaxBuySol,
		s.MinSellRatio, s.AntiFastTrade, s.FastTradeThreshold, s.FastTradeDuration,
		s.FastTradeSleepThreshold, s.FastTradeSleepTime, s.FastTradeWindowStart, s.FastTradeCount,
		s.PriorityFee, s.AntiSandwich, s.AutoSlippage, s.CustomSlippage, s.CurrentPosition, s.SolSold,
		s.SolEarned, s.TokenNumber, s.FailedTimes, s.FilteredTimes, s.PK)
	return s.PK, err
}

func scanSubscription(row interface{ Scan(...any) error }) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(
		&s.PK, &s.FollowerWallet, &s.FollowerChat, &s.LeaderWallet, &s.LeaderAlias, &s.Active,
		&s.FilterMinBuy, &s.MaxBuyTimes, &s.MaxPosition, &s.AutoBuy, &s.AutoSell, &s.AutoBuyRatio,
		&s.MinBuySol, &s.MaxBuySol, &s.MinSellRatio, &s.AntiFastTrade, &s.FastTradeThreshold,
		&s.FastTradeDuration, &s.FastTradeSleepThreshold, &s.FastTradeSleepTime, &s.FastTradeWindowStart,
		&s.FastTradeCount, &s.PriorityFee, &s.AntiSandwich, &s.AutoSlippage, &s.CustomSlippage,
		&s.CurrentPosition, &s.SolSold, &s.SolEarned, &s.TokenNumber, &s.FailedTimes, &s.FilteredTimes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const subscriptionColumns = `pk, follower_wallet, follower_chat, leader_wallet, leader_alias, active,
	filter_min_buy, max_buy_times, max_position, auto_buy, auto_sell, auto_buy_ratio, min_buy_sol,
	max_buy_sol, min_sell_ratio, anti_fast_trade, fast_trade_threshold, fast_trade_duration,
	fast_trade_sleep_threshold, fast_trade_sleep_time, fast_trade_window_start, fast_trade_count,
	priority_fee, anti_sandwich, auto_slippage, custom_slippage, current_position, sol_sold,
	sol_earned, token_number, failed_times, filtered_times`

// GetSubscription fetches a subscription by primary key.
func (d *DB) GetSubscription(pk int64) (*model.Subscription, error) {
	row := d.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE pk = ?`, pk)
	return scanSubscription(row)
}

// IncrementFilteredTimes atomically bumps filtered_times for one subscription.
func (d *DB) IncrementFilteredTimes(pk int64) error {
	_, err := d.db.Exec(`UPDATE subscriptions SET filtered_times = filtered_times + 1 WHERE pk = ?`, pk)
	return err
}

// IncrementFailedTimes atomically bumps failed_times for one subscription.
// Called by internal/engine whenever shaping, building, submitting, or
// settling a copy-trade ends in anything other than StatusSuccess (spec.md
// §4.7: "Failed/expired settlements mutate no positional fields; they
// increment subscription.failed_times").
func (d *DB) IncrementFailedTimes(pk int64) error {
	_, err := d.db.Exec(`UPDATE subscriptions SET failed_times = failed_times + 1 WHERE pk = ?`, pk)
	return err
}

// SubscriptionDelta is a subscription-wide running-total adjustment, mirroring
// original_source's CopyTradeService.update_target_state state_delta dict:
// every field here is added to (never replaces) the subscription's current
// value.
type SubscriptionDelta struct {
	CurrentPosition  int64
	SolSold          int64
	SolEarned        int64
	TokenNumber      int64
	FastTradeStart   *int64 // nil means "leave fast_trade_window_start untouched"
	FastTradeCount   int64
}

// ApplySubscriptionDelta atomically adds delta's fields onto one
// subscription's running totals.
func (d *DB) ApplySubscriptionDelta(pk int64, delta SubscriptionDelta) error {
	return applySubscriptionDelta(d.db, pk, delta)
}

func applySubscriptionDelta(e execer, pk int64, delta SubscriptionDelta) error {
	if delta.FastTradeStart != nil {
		_, err := e.Exec(`
			UPDATE subscriptions SET
				current_position = current_position + ?,
				sol_sold = sol_sold + ?,
				sol_earned = sol_earned + ?,
				token_number = token_number + ?,
				fast_trade_window_start = ?,
				fast_trade_count = fast_trade_count + ?
			WHERE pk = ?`,
			delta.CurrentPosition, delta.SolSold, delta.SolEarned, delta.TokenNumber,
			*delta.FastTradeStart, delta.FastTradeCount, pk)
		return err
	}
	_, err := e.Exec(`
		UPDATE subscriptions SET
			current_position = current_position + ?,
			sol_sold = sol_sold + ?,
			sol_earned = sol_earned + ?,
			token_number = token_number + ?,
			fast_trade_count = fast_trade_count + ?
		WHERE pk = ?`,
		delta.CurrentPosition, delta.SolSold, delta.SolEarned, delta.TokenNumber, delta.FastTradeCount, pk)
	return err
}

// GetActiveSubscriptionsForLeader returns every active subscription following leaderWallet.
func (d *DB) GetActiveSubscriptionsForLeader(leaderWallet string) ([]*model.Subscription, error) {
	rows, err := d.db.Query(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE leader_wallet = ? AND active = 1`, leaderWallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetHolding fetches a holding by (leaderWallet, mint, subscriptionPK).
func (d *DB) GetHolding(leaderWallet, mint string, subscriptionPK int64) (*model.Holding, error) {
	var h model.Holding
	err := d.db.QueryRow(`
		SELECT leader_wallet, mint, symbol, decimals, subscription_pk, my_amount, target_amount,
			current_position, max_position, buy_times, max_buy_times, sol_sold, sol_earned, latest_trade_ts
		FROM holdings WHERE leader_wallet = ? AND mint = ? AND subscription_pk = ?`,
		leaderWallet, mint, subscriptionPK).Scan(
		&h.LeaderWallet, &h.Mint, &h.Symbol, &h.Decimals, &h.SubscriptionPK, &h.MyAmount, &h.TargetAmount,
		&h.CurrentPosition, &h.MaxPosition, &h.BuyTimes, &h.MaxBuyTimes, &h.SolSold, &h.SolEarned, &h.LatestTradeTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the holding/
// subscription writes below run either standalone or inside
// ApplyLedgerOnce's transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertHolding inserts or replaces a holding.
func (d *DB) UpsertHolding(h *model.Holding) error {
	return upsertHolding(d.db, h)
}

func upsertHolding(e execer, h *model.Holding) error {
	_, err := e.Exec(`
		INSERT OR REPLACE INTO holdings
		(leader_wallet, mint, symbol, decimals, subscription_pk, my_amount, target_amount,
		 current_position, max_position, buy_times, max_buy_times, sol_sold, sol_earned, latest_trade_ts)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.LeaderWallet, h.Mint, h.Symbol, h.Decimals, h.SubscriptionPK, h.MyAmount, h.TargetAmount,
		h.CurrentPosition, h.MaxPosition, h.BuyTimes, h.MaxBuyTimes, h.SolSold, h.SolEarned, h.LatestTradeTS)
	return err
}

// DeleteHolding removes a holding row outright. The Position Ledger itself
// never calls this on a full exit -- it retains the zero-balance row for
// historical totals and the per-mint buy_times cap -- this remains as a
// general store primitive for administrative cleanup.
func (d *DB) DeleteHolding(leaderWallet, mint string, subscriptionPK int64) error {
	return deleteHolding(d.db, leaderWallet, mint, subscriptionPK)
}

func deleteHolding(e execer, leaderWallet, mint string, subscriptionPK int64) error {
	_, err := e.Exec(`DELETE FROM holdings WHERE leader_wallet = ? AND mint = ? AND subscription_pk = ?`,
		leaderWallet, mint, subscriptionPK)
	return err
}

// GetAllHoldings returns every holding for a subscription.
func (d *DB) GetAllHoldings(subscriptionPK int64) ([]*model.Holding, error) {
	rows, err := d.db.Query(`
		SELECT leader_wallet, mint, symbol, decimals, subscription_pk, my_amount, target_amount,
			current_position, max_position, buy_times, max_buy_times, sol_sold, sol_earned, latest_trade_ts
		FROM holdings WHERE subscription_pk = ?`, subscriptionPK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.LeaderWallet, &h.Mint, &h.Symbol, &h.Decimals, &h.SubscriptionPK, &h.MyAmount,
			&h.TargetAmount, &h.CurrentPosition, &h.MaxPosition, &h.BuyTimes, &h.MaxBuyTimes, &h.SolSold,
			&h.SolEarned, &h.LatestTradeTS); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// InsertSwapRecord records a settlement outcome exactly once per signature;
// a duplicate signature is a no-op rather than an error, since settlement
// retries must be idempotent.
func (d *DB) InsertSwapRecord(r *model.SwapRecord) error {
	sig := r.Signature
	if sig == "" {
		sig = "buildfailed-" + uuid.NewString()
	}
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO swap_records
		(signature, status, direction, input_mint, input_amount, input_decimals, output_mint,
		 output_amount, output_decimals, fee, slot, timestamp, sol_change, swap_sol_change,
		 other_sol_change, program_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig, r.Status.String(), r.Direction.String(), r.InputMint, r.InputAmount, r.InputDecimals,
		r.OutputMint, r.OutputAmount, r.OutputDecimals, r.Fee, r.Slot, r.Timestamp, r.SolChange,
		r.SwapSolChange, r.OtherSolChange, r.ProgramID)
	return err
}

// GetRecentSwapRecords returns the most recent settled swaps.
func (d *DB) GetRecentSwapRecords(limit int) ([]*model.SwapRecord, error) {
	rows, err := d.db.Query(`
		SELECT signature, status, direction, input_mint, input_amount, input_decimals, output_mint,
			output_amount, output_decimals, fee, slot, timestamp, sol_change, swap_sol_change,
			other_sol_change, program_id
		FROM swap_records ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SwapRecord
	for rows.Next() {
		var r model.SwapRecord
		var status, direction string
		if err := rows.Scan(&r.Signature, &status, &direction, &r.InputMint, &r.InputAmount, &r.InputDecimals,
			&r.OutputMint, &r.OutputAmount, &r.OutputDecimals, &r.Fee, &r.Slot, &r.Timestamp, &r.SolChange,
			&r.SwapSolChange, &r.OtherSolChange, &r.ProgramID); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetTokenCache fetches a cached token metadata row, or nil if absent.
func (d *DB) GetTokenCache(mint string) (*token.Info, error) {
	var info token.Info
	var fetchedAt int64
	err := d.db.QueryRow(`SELECT mint, symbol, decimals, token_program, fetched_at FROM token_cache WHERE mint = ?`, mint).
		Scan(&info.Mint, &info.Symbol, &info.Decimals, &info.TokenProgram, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.FetchedAt = time.Unix(fetchedAt, 0)
	return &info, nil
}

// PutTokenCache inserts or replaces a cached token metadata row.
func (d *DB) PutTokenCache(info *token.Info) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO token_cache (mint, symbol, decimals, token_program, fetched_at)
		VALUES (?, ?, ?, ?, ?)`,
		info.Mint, info.Symbol, info.Decimals, info.TokenProgram, info.FetchedAt.Unix())
	return err
}

// AppendOutbox durably appends a message to the bus outbox, returning its
// row id. A duplicate (topic, idempotencyKey) pair is a no-op and returns
// the id of the existing row.
func (d *DB) AppendOutbox(topic, idempotencyKey string, payload []byte) (int64, error) {
	res, err := d.db.Exec(`
		INSERT OR IGNORE INTO bus_outbox (topic, idempotency_key, payload, created_at)
		VALUES (?, ?, ?, ?)`, topic, idempotencyKey, payload, Now())
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}
	var id int64
	err = d.db.QueryRow(`SELECT id FROM bus_outbox WHERE topic = ? AND idempotency_key = ?`, topic, idempotencyKey).Scan(&id)
	return id, err
}

// OutboxAfter returns up to limit outbox rows on topic with id > afterID,
// in ascending id order.
func (d *DB) OutboxAfter(topic string, afterID int64, limit int) ([]bus.OutboxRow, error) {
	rows, err := d.db.Query(`
		SELECT id, topic, idempotency_key, payload, created_at
		FROM bus_outbox WHERE topic = ? AND id > ? ORDER BY id ASC LIMIT ?`, topic, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bus.OutboxRow
	for rows.Next() {
		var r bus.OutboxRow
		if err := rows.Scan(&r.ID, &r.Topic, &r.IdempotencyKey, &r.Payload, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetOffset returns the last acknowledged outbox row id for (topic, group),
// or 0 if the consumer group has never acknowledged anything.
func (d *DB) GetOffset(topic, group string) (int64, error) {
	var id int64
	err := d.db.QueryRow(`SELECT last_delivered_id FROM bus_offsets WHERE topic = ? AND consumer_group = ?`, topic, group).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// SetOffset advances the acknowledged offset for (topic, group) to id.
func (d *DB) SetOffset(topic, group string, id int64) error {
	_, err := d.db.Exec(`
		INSERT INTO bus_offsets (topic, consumer_group, last_delivered_id) VALUES (?, ?, ?)
		ON CONFLICT(topic, consumer_group) DO UPDATE SET last_delivered_id = excluded.last_delivered_id`,
		topic, group, id)
	return err
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Now returns the current Unix timestamp.
func Now() int64 {
	return time.Now().Unix()
}
