package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyphera/wallet-relayer/internal/wallet"
)

// PostgresStore is a pgx-backed Store. Addresses and hashes are stored
// as lowercase hex text, big integers as decimal text; see schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func hexAddr(a common.Address) string { return strings.ToLower(a.Hex()) }
func hexHash(h common.Hash) string    { return strings.ToLower(h.Hex()) }

func (s *PostgresStore) CreateWallet(ctx context.Context, w wallet.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (address, owner, locked) VALUES ($1, $2, $3)`,
		hexAddr(w.Address), hexAddr(w.Owner), w.Locked)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrWalletExists
		}
		return fmt.Errorf("create wallet: %w", err)
	}
	for _, m := range w.Modules {
		if err := s.SetModuleAuthorization(ctx, w.Address, m, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, addr common.Address) (wallet.Wallet, error) {
	var owner string
	var locked bool
	err := s.pool.QueryRow(ctx,
		`SELECT owner, locked FROM wallets WHERE address = $1`,
		hexAddr(addr)).Scan(&owner, &locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT module FROM wallet_modules WHERE wallet = $1`, hexAddr(addr))
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("get wallet modules: %w", err)
	}
	defer rows.Close()
	var modules []common.Address
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return wallet.Wallet{}, err
		}
		modules = append(modules, common.HexToAddress(m))
	}
	if err := rows.Err(); err != nil {
		return wallet.Wallet{}, err
	}

	return wallet.Wallet{
		Address: addr,
		Owner:   common.HexToAddress(owner),
		Modules: modules,
		Locked:  locked,
	}, nil
}

func (s *PostgresStore) SetLocked(ctx context.Context, addr common.Address, locked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET locked = $2 WHERE address = $1`, hexAddr(addr), locked)
	if err != nil {
		return fmt.Errorf("set locked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (s *PostgresStore) SetModuleAuthorization(ctx context.Context, addr, module common.Address, authorized bool) error {
	if authorized {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO wallet_modules (wallet, module) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			hexAddr(addr), hexAddr(module))
		if err != nil {
			return fmt.Errorf("authorize module: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_modules WHERE wallet = $1 AND module = $2`,
		hexAddr(addr), hexAddr(module))
	if err != nil {
		return fmt.Errorf("deauthorize module: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsModuleAuthorized(ctx context.Context, addr, module common.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallet_modules WHERE wallet = $1 AND module = $2)`,
		hexAddr(addr), hexAddr(module)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check module authorization: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetGuardians(ctx context.Context, addr common.Address) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT guardian FROM wallet_guardians WHERE wallet = $1 ORDER BY position`,
		hexAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("get guardians: %w", err)
	}
	defer rows.Close()
	var guardians []common.Address
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		guardians = append(guardians, common.HexToAddress(g))
	}
	return guardians, rows.Err()
}

func (s *PostgresStore) SetGuardians(ctx context.Context, addr common.Address, guardians []common.Address) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM wallet_guardians WHERE wallet = $1`, hexAddr(addr)); err != nil {
		return fmt.Errorf("clear guardians: %w", err)
	}
	for i, g := range guardians {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_guardians (wallet, guardian, position) VALUES ($1, $2, $3)`,
			hexAddr(addr), hexAddr(g), i); err != nil {
			return fmt.Errorf("insert guardian: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetNonce(ctx context.Context, addr common.Address) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT nonce FROM relayer_nonces WHERE wallet = $1`, hexAddr(addr)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	nonce, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt nonce %q for wallet %s", raw, addr.Hex())
	}
	return nonce, nil
}

func (s *PostgresStore) SetNonce(ctx context.Context, addr common.Address, nonce *big.Int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relayer_nonces (wallet, nonce) VALUES ($1, $2)
		 ON CONFLICT (wallet) DO UPDATE SET nonce = EXCLUDED.nonce`,
		hexAddr(addr), nonce.String())
	if err != nil {
		return fmt.Errorf("set nonce: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsHashUsed(ctx context.Context, addr common.Address, hash common.Hash) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM used_hashes WHERE wallet = $1 AND hash = $2)`,
		hexAddr(addr), hexHash(hash)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check used hash: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkHashUsed(ctx context.Context, addr common.Address, hash common.Hash) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO used_hashes (wallet, hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		hexAddr(addr), hexHash(hash))
	if err != nil {
		return fmt.Errorf("mark used hash: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLimit(ctx context.Context, addr common.Address) (wallet.Limit, error) {
	var current, pending string
	var changeAfter int64
	err := s.pool.QueryRow(ctx,
		`SELECT current, pending, change_after FROM wallet_limits WHERE wallet = $1`,
		hexAddr(addr)).Scan(&current, &pending, &changeAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Limit{}, nil
	}
	if err != nil {
		return wallet.Limit{}, fmt.Errorf("get limit: %w", err)
	}
	limit := wallet.Limit{ChangeAfter: changeAfter}
	limit.Current, _ = new(big.Int).SetString(current, 10)
	limit.Pending, _ = new(big.Int).SetString(pending, 10)
	return limit, nil
}

func (s *PostgresStore) SetLimit(ctx context.Context, addr common.Address, limit wallet.Limit) error {
	current, pending := "0", "0"
	if limit.Current != nil {
		current = limit.Current.String()
	}
	if limit.Pending != nil {
		pending = limit.Pending.String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_limits (wallet, current, pending, change_after) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (wallet) DO UPDATE SET current = EXCLUDED.current,
		   pending = EXCLUDED.pending, change_after = EXCLUDED.change_after`,
		hexAddr(addr), current, pending, limit.ChangeAfter)
	if err != nil {
		return fmt.Errorf("set limit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDailySpent(ctx context.Context, addr common.Address) (wallet.DailySpent, error) {
	var spent string
	var periodEnd int64
	err := s.pool.QueryRow(ctx,
		`SELECT already_spent, period_end FROM daily_spent WHERE wallet = $1`,
		hexAddr(addr)).Scan(&spent, &periodEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.DailySpent{}, nil
	}
	if err != nil {
		return wallet.DailySpent{}, fmt.Errorf("get daily spent: %w", err)
	}
	out := wallet.DailySpent{PeriodEnd: periodEnd}
	out.AlreadySpent, _ = new(big.Int).SetString(spent, 10)
	return out, nil
}

func (s *PostgresStore) SetDailySpent(ctx context.Context, addr common.Address, spent wallet.DailySpent) error {
	already := "0"
	if spent.AlreadySpent != nil {
		already = spent.AlreadySpent.String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO daily_spent (wallet, already_spent, period_end) VALUES ($1, $2, $3)
		 ON CONFLICT (wallet) DO UPDATE SET already_spent = EXCLUDED.already_spent,
		   period_end = EXCLUDED.period_end`,
		hexAddr(addr), already, spent.PeriodEnd)
	if err != nil {
		return fmt.Errorf("set daily spent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPendingTransfer(ctx context.Context, addr common.Address, id common.Hash) (int64, error) {
	var executeAfter int64
	err := s.pool.QueryRow(ctx,
		`SELECT execute_after FROM pending_transfers WHERE wallet = $1 AND id = $2`,
		hexAddr(addr), hexHash(id)).Scan(&executeAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get pending transfer: %w", err)
	}
	return executeAfter, nil
}

func (s *PostgresStore) SetPendingTransfer(ctx context.Context, addr common.Address, id common.Hash, executeAfter int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_transfers (wallet, id, execute_after) VALUES ($1, $2, $3)
		 ON CONFLICT (wallet, id) DO UPDATE SET execute_after = EXCLUDED.execute_after`,
		hexAddr(addr), hexHash(id), executeAfter)
	if err != nil {
		return fmt.Errorf("set pending transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePendingTransfer(ctx context.Context, addr common.Address, id common.Hash) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pending_transfers WHERE wallet = $1 AND id = $2`,
		hexAddr(addr), hexHash(id))
	if err != nil {
		return fmt.Errorf("delete pending transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPendingTransfers(ctx context.Context, addr common.Address) ([]wallet.PendingTransfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, execute_after FROM pending_transfers WHERE wallet = $1`, hexAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("list pending transfers: %w", err)
	}
	defer rows.Close()
	var out []wallet.PendingTransfer
	for rows.Next() {
		var id string
		var executeAfter int64
		if err := rows.Scan(&id, &executeAfter); err != nil {
			return nil, err
		}
		out = append(out, wallet.PendingTransfer{
			ID:           common.HexToHash(id),
			ExecuteAfter: executeAfter,
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetWhitelistAfter(ctx context.Context, addr, target common.Address) (int64, error) {
	var after int64
	err := s.pool.QueryRow(ctx,
		`SELECT whitelist_after FROM whitelist WHERE wallet = $1 AND target = $2`,
		hexAddr(addr), hexAddr(target)).Scan(&after)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get whitelist entry: %w", err)
	}
	return after, nil
}

func (s *PostgresStore) SetWhitelistAfter(ctx context.Context, addr, target common.Address, after int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO whitelist (wallet, target, whitelist_after) VALUES ($1, $2, $3)
		 ON CONFLICT (wallet, target) DO UPDATE SET whitelist_after = EXCLUDED.whitelist_after`,
		hexAddr(addr), hexAddr(target), after)
	if err != nil {
		return fmt.Errorf("set whitelist entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFromWhitelist(ctx context.Context, addr, target common.Address) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM whitelist WHERE wallet = $1 AND target = $2`,
		hexAddr(addr), hexAddr(target))
	if err != nil {
		return fmt.Errorf("remove whitelist entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
