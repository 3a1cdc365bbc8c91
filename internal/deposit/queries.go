package deposit

const (
	depositColumns = `id, user_id, currency, chain, txid, address, from_address, CAST(amount AS TEXT),
		confirmations, required_confirmations, status, confirmed_at, created_at, updated_at`

	queryInsertDeposit = `
		INSERT INTO deposits (id, user_id, currency, chain, txid, address, from_address, amount,
			confirmations, required_confirmations, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT (txid, currency, chain) DO NOTHING`

	querySelectDeposits = `SELECT ` + depositColumns + ` FROM deposits`

	queryGetDeposit = querySelectDeposits + ` WHERE id = ?`

	queryGetDepositByTx = querySelectDeposits + ` WHERE txid = ? AND currency = ? AND chain = ?`

	queryCountDeposits = `SELECT COUNT(*) FROM deposits`

	queryObserveMonotonic = `
		UPDATE deposits SET confirmations = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND confirmations <= ?`

	queryObserveAny = `
		UPDATE deposits SET confirmations = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryConfirmDeposit = `
		UPDATE deposits SET status = 'confirmed', confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND confirmations >= required_confirmations`
)
