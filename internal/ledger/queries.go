package ledger

// Balance mutations. Each guarded statement checks and applies in one UPDATE;
// no returned row means the guard failed.
const (
	queryEnsureAsset = `
		INSERT INTO user_assets (user_id, currency, chain, available, frozen, created_at, updated_at)
		VALUES (?, ?, ?, '0', '0', ?, ?)
		ON CONFLICT (user_id, currency, chain) DO NOTHING`

	queryCreditAvailable = `
		UPDATE user_assets SET available = dec_add(available, ?), updated_at = ?
		WHERE user_id = ? AND currency = ? AND chain = ?
		RETURNING CAST(available AS TEXT), CAST(frozen AS TEXT)`

	queryDebitAvailable = `
		UPDATE user_assets SET available = dec_sub(available, ?), updated_at = ?
		WHERE user_id = ? AND currency = ? AND chain = ? AND dec_cmp(available, ?) >= 0
		RETURNING CAST(available AS TEXT), CAST(frozen AS TEXT)`

	queryFreezeAvailable = `
		UPDATE user_assets SET available = dec_sub(available, ?), frozen = dec_add(frozen, ?), updated_at = ?
		WHERE user_id = ? AND currency = ? AND chain = ? AND dec_cmp(available, ?) >= 0
		RETURNING CAST(available AS TEXT), CAST(frozen AS TEXT)`

	queryUnfreezeFrozen = `
		UPDATE user_assets SET frozen = dec_sub(frozen, ?), available = dec_add(available, ?), updated_at = ?
		WHERE user_id = ? AND currency = ? AND chain = ? AND dec_cmp(frozen, ?) >= 0
		RETURNING CAST(available AS TEXT), CAST(frozen AS TEXT)`

	queryDeductFrozen = `
		UPDATE user_assets SET frozen = dec_sub(frozen, ?), updated_at = ?
		WHERE user_id = ? AND currency = ? AND chain = ? AND dec_cmp(frozen, ?) >= 0
		RETURNING CAST(available AS TEXT), CAST(frozen AS TEXT)`
)

// Journal
const (
	queryInsertTransaction = `
		INSERT INTO asset_transactions (
			id, user_id, currency, chain, tx_type, amount, frozen_delta,
			balance_before, balance_after, available_after, frozen_after,
			reference_type, reference_id, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`

	selectTransactionColumns = `
		SELECT seq, id, user_id, currency, chain, tx_type,
			CAST(amount AS TEXT), CAST(frozen_delta AS TEXT),
			CAST(balance_before AS TEXT), CAST(balance_after AS TEXT),
			CAST(available_after AS TEXT), CAST(frozen_after AS TEXT),
			reference_type, reference_id, description, created_at
		FROM asset_transactions`

	queryCountTransactions = `SELECT COUNT(*) FROM asset_transactions`

	queryJournalDeltas = `
		SELECT CAST(amount AS TEXT), CAST(frozen_delta AS TEXT)
		FROM asset_transactions
		WHERE user_id = ? AND currency = ? AND chain = ?
		ORDER BY seq`
)

// Balances
const (
	selectAssetColumns = `
		SELECT user_id, currency, chain, CAST(available AS TEXT), CAST(frozen AS TEXT), created_at, updated_at
		FROM user_assets`

	queryGetAsset = selectAssetColumns + ` WHERE user_id = ? AND currency = ? AND chain = ?`

	queryCountAssets = `SELECT COUNT(*) FROM user_assets`
)
